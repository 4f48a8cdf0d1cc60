// Package pricing turns scraped or API-supplied price text into exact
// decimal amounts and folds free text for comparison.
package pricing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrInvalidPrice is returned when the text holds no usable amount.
var ErrInvalidPrice = errors.New("invalid price")

// DefaultLanguage is the locale sources are assumed to publish prices in.
var DefaultLanguage = language.MustParse("es-CL")

// Separators are the grouping and decimal marks of a locale.
type Separators struct {
	Group   rune
	Decimal rune
}

var separatorCache sync.Map // language.Tag -> Separators

// SeparatorsFor derives a locale's separators by formatting a probe number.
func SeparatorsFor(tag language.Tag) Separators {
	if v, ok := separatorCache.Load(tag); ok {
		return v.(Separators)
	}

	// 1234567.5 renders as e.g. "1,234,567.5" or "1.234.567,5"
	probe := []rune(message.NewPrinter(tag).Sprintf("%.1f", 1234567.5))
	seps := Separators{Group: ',', Decimal: '.'}
	if len(probe) >= 3 {
		seps.Decimal = probe[len(probe)-2]
		for _, r := range probe[1:] {
			if !unicode.IsDigit(r) {
				seps.Group = r
				break
			}
		}
	}
	if seps.Group == seps.Decimal {
		seps = Separators{Group: ',', Decimal: '.'}
	}

	separatorCache.Store(tag, seps)
	return seps
}

// ParsePrice parses text such as "$ 25.990" or "12.990,50" using the
// separators of tag. Text the locale cannot explain falls back to
// ParseLoose.
func ParsePrice(text string, tag language.Tag) (decimal.Decimal, error) {
	cleaned := clean(text)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}

	if d, ok := parseLocale(cleaned, SeparatorsFor(tag)); ok {
		return d, nil
	}
	return parseLoose(cleaned, text)
}

// ParseLoose ignores locale: every character except digits, '.' and ','
// is dropped, and the last separator group is the decimal part only when
// its length is not 3.
func ParseLoose(text string) (decimal.Decimal, error) {
	cleaned := clean(text)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	return parseLoose(cleaned, text)
}

func clean(text string) string {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if strings.IndexFunc(s, unicode.IsDigit) < 0 {
		return ""
	}
	return s
}

// parseLocale accepts only well-formed locale text: digit groups of three
// after the first group and at most one trailing decimal mark.
func parseLocale(s string, seps Separators) (decimal.Decimal, bool) {
	intPart, fracPart := s, ""
	if i := strings.LastIndexByte(s, byte(seps.Decimal)); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" || !allDigits(fracPart) {
			return decimal.Zero, false
		}
	}

	groups := strings.Split(intPart, string(seps.Group))
	for i, g := range groups {
		if g == "" || !allDigits(g) {
			return decimal.Zero, false
		}
		if i > 0 && len(g) != 3 {
			return decimal.Zero, false
		}
	}

	num := strings.Join(groups, "")
	if fracPart != "" {
		num += "." + fracPart
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseLoose(s, original string) (decimal.Decimal, error) {
	groups := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ',' })
	if len(groups) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, original)
	}

	num := strings.Join(groups, "")
	if last := groups[len(groups)-1]; len(groups) > 1 && len(last) != 3 {
		num = strings.Join(groups[:len(groups)-1], "") + "." + last
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %w", ErrInvalidPrice, original, err)
	}
	return d, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
