package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedOffer is one search hit mapped to the common schema.
type NormalizedOffer struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	ImageURL     string          `json:"imageUrl"`
	ProductURL   string          `json:"productUrl"`
	StoreName    string          `json:"storeName"`
	Source       string          `json:"source"`
	Condition    string          `json:"condition"`
	Stock        int             `json:"stock"`
	FreeShipping bool            `json:"freeShipping"`
	Rating       *float64        `json:"rating,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// MarshalJSON writes the price as a JSON number.
func (o NormalizedOffer) MarshalJSON() ([]byte, error) {
	type plain NormalizedOffer
	return json.Marshal(struct {
		plain
		Price json.Number `json:"price"`
	}{plain(o), decimalNumber(o.Price)})
}

// SourceDiagnostic records how one source behaved during a fan-out.
type SourceDiagnostic struct {
	Source    string `json:"source"`
	Count     int    `json:"count"`
	LatencyMs int64  `json:"latencyMs"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// AggregatedResult is the consolidated answer to a free-text query.
type AggregatedResult struct {
	Term                 string             `json:"term"`
	Category             string             `json:"category,omitempty"`
	Offers               []NormalizedOffer  `json:"offers"`
	TotalResults         int                `json:"totalResults"`
	MinPrice             decimal.Decimal    `json:"minPrice"`
	MaxPrice             decimal.Decimal    `json:"maxPrice"`
	AvgPrice             decimal.Decimal    `json:"avgPrice"`
	PerSourceDiagnostics []SourceDiagnostic `json:"perSourceDiagnostics"`
	TotalLatencyMs       int64              `json:"totalLatencyMs"`
}

// MarshalJSON writes the price statistics as JSON numbers.
func (r AggregatedResult) MarshalJSON() ([]byte, error) {
	type plain AggregatedResult
	return json.Marshal(struct {
		plain
		MinPrice json.Number `json:"minPrice"`
		MaxPrice json.Number `json:"maxPrice"`
		AvgPrice json.Number `json:"avgPrice"`
	}{plain(r), decimalNumber(r.MinPrice), decimalNumber(r.MaxPrice), decimalNumber(r.AvgPrice)})
}

func decimalNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
