package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/jonesrussell/north-cloud/partprice/internal/pricing"
)

func TestParsePrice_SpanishLocale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"25.990", "25990"},
		{"8500", "8500"},
		{"1.250.000", "1250000"},
		{"$ 25.990", "25990"},
		{"CLP $12.990,50", "12990.5"},
		{"19.99", "19.99"},
		{"Precio: $ 9.990 IVA incl.", "9990"},
		{"1,5", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := pricing.ParsePrice(tt.in, pricing.DefaultLanguage)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParsePrice_EnglishLocale(t *testing.T) {
	t.Parallel()

	got, err := pricing.ParsePrice("$1,250.75", language.English)
	require.NoError(t, err)
	assert.Equal(t, "1250.75", got.String())

	got, err = pricing.ParsePrice("8500", language.English)
	require.NoError(t, err)
	assert.Equal(t, "8500", got.String())
}

func TestParsePrice_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "Agotado", "$ .,", "consultar"} {
		_, err := pricing.ParsePrice(in, pricing.DefaultLanguage)
		require.ErrorIs(t, err, pricing.ErrInvalidPrice, in)
	}
}

func TestParseLoose(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"25.990":       "25990",
		"1.250.000":    "1250000",
		"8500":         "8500",
		"12.990,50":    "12990.5",
		"1,234.5":      "1234.5",
		"USD 1,250.00": "1250",
	}
	for in, want := range tests {
		got, err := pricing.ParseLoose(in)
		require.NoError(t, err, in)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%s: got %s want %s", in, got, want)
	}
}

func TestSeparatorsFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pricing.Separators{Group: '.', Decimal: ','}, pricing.SeparatorsFor(language.Spanish))
	assert.Equal(t, pricing.Separators{Group: ',', Decimal: '.'}, pricing.SeparatorsFor(language.English))
}

func TestFold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "filtro de aceite", pricing.Fold("  Filtro de  ACEÍTE "))
	assert.Equal(t, "pastillas freno", pricing.Fold("Pastillas Fréno"))
}
