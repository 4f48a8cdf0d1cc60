package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

func TestNormalizedOffer_PriceIsJSONNumber(t *testing.T) {
	t.Parallel()

	offer := domain.NormalizedOffer{
		ID:        "MLC1",
		Title:     "Filtro de aceite OC-90",
		Price:     decimal.RequireFromString("8990.50"),
		Source:    "marketplace",
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(offer)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.InDelta(t, 8990.5, raw["price"], 0.0001)
	assert.Equal(t, "Filtro de aceite OC-90", raw["title"])
	assert.False(t, decimal.MarshalJSONWithoutQuotes, "package-wide decimal encoding is left alone")

	var back domain.NormalizedOffer
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, offer.Price.Equal(back.Price))
	assert.Equal(t, offer.UpdatedAt, back.UpdatedAt)
}

func TestAggregatedResult_PricesAreJSONNumbers(t *testing.T) {
	t.Parallel()

	res := domain.AggregatedResult{
		Term:         "aceite",
		Offers:       []domain.NormalizedOffer{{ID: "1", Price: decimal.NewFromInt(22000)}},
		TotalResults: 1,
		MinPrice:     decimal.NewFromInt(22000),
		MaxPrice:     decimal.NewFromInt(30000),
		AvgPrice:     decimal.RequireFromString("26000.5"),
	}

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var raw struct {
		Term     string  `json:"term"`
		MinPrice float64 `json:"minPrice"`
		MaxPrice float64 `json:"maxPrice"`
		AvgPrice float64 `json:"avgPrice"`
		Offers   []struct {
			Price float64 `json:"price"`
		} `json:"offers"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "aceite", raw.Term)
	assert.InDelta(t, 22000, raw.MinPrice, 0.0001)
	assert.InDelta(t, 30000, raw.MaxPrice, 0.0001)
	assert.InDelta(t, 26000.5, raw.AvgPrice, 0.0001)
	require.Len(t, raw.Offers, 1)
	assert.InDelta(t, 22000, raw.Offers[0].Price, 0.0001)
}
