// Package catalog persists products, stores and the per-(product, store)
// offer ledger.
package catalog

import (
	"context"
	"errors"

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrVersionConflict is returned when an offer changed (or was created)
	// since it was read.
	ErrVersionConflict = errors.New("catalog: version conflict")
)

// Queries are the reads and offer writes a cycle performs.
type Queries interface {
	ActiveProducts(ctx context.Context) ([]domain.Product, error)
	ActiveStores(ctx context.Context) ([]domain.Store, error)
	Product(ctx context.Context, id int64) (domain.Product, error)
	Store(ctx context.Context, id int64) (domain.Store, error)
	// GetOffer returns ErrNotFound when the pair has no offer yet.
	GetOffer(ctx context.Context, productID, storeID int64) (domain.Offer, error)
	// UpsertOffer creates the offer when o.Version is 0 and otherwise updates
	// it only if the stored version still equals o.Version. Either way a lost
	// race yields ErrVersionConflict. The stored offer is returned.
	UpsertOffer(ctx context.Context, o domain.Offer) (domain.Offer, error)
	Categories(ctx context.Context) ([]domain.Category, error)
}

// Session is a unit of work scoped to one cycle.
type Session interface {
	Queries
	Close() error
}

// Store is the catalog backend.
type Store interface {
	Queries
	Begin(ctx context.Context) (Session, error)
	// SaveProduct inserts a product or updates the one with the same part number.
	SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	// EnsureStore returns the store named name, creating it when missing.
	EnsureStore(ctx context.Context, name, baseURL string) (domain.Store, error)
	Close() error
}
