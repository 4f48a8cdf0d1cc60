package storefront

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/north-cloud/partprice/internal/pricing"
)

// Rule is one extraction strategy for a listing page. Each field is a
// "|"-separated list of alternatives tried in order; an alternative of the
// form "selector@attr" reads an attribute instead of the element text.
type Rule struct {
	Name      string `mapstructure:"name"       yaml:"name"`
	Container string `mapstructure:"container"  yaml:"container"`
	Title     string `mapstructure:"title"      yaml:"title"`
	Price     string `mapstructure:"price"      yaml:"price"`
	WasPrice  string `mapstructure:"was_price"  yaml:"was_price"`
	Link      string `mapstructure:"link"       yaml:"link"`
	Image     string `mapstructure:"image"      yaml:"image"`
	// OutOfStock matches an element present only on sold-out items.
	OutOfStock string `mapstructure:"out_of_stock" yaml:"out_of_stock"`
}

// DefaultRules cover schema.org product microdata and the common
// WooCommerce/Shopify/VTEX product card markup.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "schema-org",
			Container:  `[itemtype*="schema.org/Product"]`,
			Title:      `[itemprop="name"]@content | [itemprop="name"]`,
			Price:      `[itemprop="price"]@content | [itemprop="price"]`,
			Link:       `[itemprop="url"]@href | a@href`,
			Image:      `[itemprop="image"]@src | [itemprop="image"]@content`,
			OutOfStock: `link[itemprop="availability"][href*="OutOfStock"]`,
		},
		{
			Name:       "product-card",
			Container:  `li.product, .product-item, .product-card, .vtex-product-summary`,
			Title:      `.woocommerce-loop-product__title | .product-item-link | .product-title | .product-name | h2 | h3`,
			Price:      `.price ins .amount | .price .amount | [data-price-amount]@data-price-amount | .price-new | .price`,
			WasPrice:   `.price del .amount | .old-price .price | .price-old`,
			Link:       `a.woocommerce-LoopProduct-link@href | a.product-item-link@href | a@href`,
			Image:      `img@data-src | img@src`,
			OutOfStock: `.out-of-stock, .outofstock, .stock.unavailable`,
		},
	}
}

// LoadRules reads a YAML list of rules.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	for i, r := range rules {
		if r.Container == "" || r.Price == "" {
			return nil, fmt.Errorf("rule %d (%s): container and price are required", i, r.Name)
		}
	}
	return rules, nil
}

// listing is one product found on a page.
type listing struct {
	Title    string
	Price    decimal.Decimal
	WasPrice *decimal.Decimal
	URL      string
	ImageURL string
	InStock  bool
}

// extract applies rules in order and returns the listings of the first rule
// that yields at least one positive price, plus the winning rule's name.
func extract(doc *goquery.Document, rules []Rule, base *url.URL, tag language.Tag) ([]listing, string) {
	for _, rule := range rules {
		var found []listing
		doc.Find(rule.Container).Each(func(_ int, s *goquery.Selection) {
			priceText := selectValue(s, rule.Price)
			price, err := pricing.ParsePrice(priceText, tag)
			if err != nil || !price.IsPositive() {
				return
			}

			l := listing{
				Title:    collapse(selectValue(s, rule.Title)),
				Price:    price,
				URL:      resolve(base, selectValue(s, rule.Link)),
				ImageURL: resolve(base, selectValue(s, rule.Image)),
				InStock:  rule.OutOfStock == "" || s.Find(rule.OutOfStock).Length() == 0,
			}
			if rule.WasPrice != "" {
				if was, wasErr := pricing.ParsePrice(selectValue(s, rule.WasPrice), tag); wasErr == nil && was.GreaterThan(price) {
					l.WasPrice = &was
				}
			}
			found = append(found, l)
		})
		if len(found) > 0 {
			return found, rule.Name
		}
	}
	return nil, ""
}

// selectValue returns the first non-empty value among the alternatives.
func selectValue(s *goquery.Selection, expr string) string {
	if expr == "" {
		return ""
	}
	for _, alt := range strings.Split(expr, "|") {
		alt = strings.TrimSpace(alt)
		selector, attr, hasAttr := strings.Cut(alt, "@")

		target := s.Find(selector).First()
		if target.Length() == 0 && s.Is(selector) {
			target = s
		}
		if target.Length() == 0 {
			continue
		}

		var v string
		if hasAttr {
			v, _ = target.Attr(attr)
		} else {
			v = target.Text()
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
