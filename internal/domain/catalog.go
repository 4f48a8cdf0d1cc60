// Package domain holds the types shared by adapters, the aggregator, the
// orchestrator and the catalog store.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog part tracked across stores.
type Product struct {
	ID         int64  `db:"id"          json:"id"`
	Name       string `db:"name"        json:"name"`
	PartNumber string `db:"part_number" json:"partNumber"`
	CategoryID *int64 `db:"category_id" json:"categoryId,omitempty"`
	Active     bool   `db:"active"      json:"active"`
}

// MatchKey is the source-agnostic key adapters look the product up by.
// Products without a part number fall back to their name.
func (p Product) MatchKey() string {
	if p.PartNumber != "" {
		return p.PartNumber
	}
	return p.Name
}

// Store is one external source as seen by the catalog. Name matches the
// registered adapter name.
type Store struct {
	ID      int64  `db:"id"       json:"id"`
	Name    string `db:"name"     json:"name"`
	BaseURL string `db:"base_url" json:"baseUrl"`
	Active  bool   `db:"active"   json:"active"`
}

// Category is a product category, either from the catalog or native to a source.
type Category struct {
	ID     string `db:"id"     json:"id"`
	Name   string `db:"name"   json:"name"`
	Source string `db:"source" json:"source,omitempty"`
}

// Offer is the reconciled price record for one (product, store) pair.
type Offer struct {
	ID            int64            `db:"id"             json:"id"`
	ProductID     int64            `db:"product_id"     json:"productId"`
	StoreID       int64            `db:"store_id"       json:"storeId"`
	Price         decimal.Decimal  `db:"price"          json:"price"`
	PreviousPrice *decimal.Decimal `db:"previous_price" json:"previousPrice,omitempty"`
	IsMarkdown    bool             `db:"is_markdown"    json:"isMarkdown"`
	Available     bool             `db:"available"      json:"available"`
	SourceURL     string           `db:"source_url"     json:"sourceUrl"`
	Active        bool             `db:"active"         json:"active"`
	// Version increments on every write and guards conditional updates.
	Version   int64     `db:"version"    json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// PairKey identifies a (product, store) pair.
type PairKey struct {
	ProductID int64
	StoreID   int64
}

// Key returns the pair key of the offer.
func (o Offer) Key() PairKey {
	return PairKey{ProductID: o.ProductID, StoreID: o.StoreID}
}
