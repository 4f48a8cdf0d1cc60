// Package sourcetest provides a scriptable source.Adapter for tests.
package sourcetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

// Fake is a source.Adapter whose behaviour is set through function fields.
// Nil functions return zero values; Available defaults to true.
type Fake struct {
	SourceName  string
	Unavailable bool
	Delay       time.Duration

	SearchFunc     func(ctx context.Context, term, category string, limit int) ([]domain.NormalizedOffer, error)
	FetchFunc      func(ctx context.Context, matchKey string) domain.FetchOutcome
	CategoriesFunc func(ctx context.Context) ([]domain.Category, error)

	SearchCalls atomic.Int32
	FetchCalls  atomic.Int32

	mu          sync.Mutex
	fetchedKeys []string
}

// Name implements source.Adapter.
func (f *Fake) Name() string { return f.SourceName }

// IsAvailable implements source.Adapter.
func (f *Fake) IsAvailable(context.Context) bool { return !f.Unavailable }

// Search implements source.Adapter.
func (f *Fake) Search(ctx context.Context, term, category string, limit int) ([]domain.NormalizedOffer, error) {
	f.SearchCalls.Add(1)
	if f.SearchFunc == nil {
		return nil, nil
	}
	return f.SearchFunc(ctx, term, category, limit)
}

// FetchForProduct implements source.Adapter.
func (f *Fake) FetchForProduct(ctx context.Context, matchKey string) domain.FetchOutcome {
	f.FetchCalls.Add(1)
	f.mu.Lock()
	f.fetchedKeys = append(f.fetchedKeys, matchKey)
	f.mu.Unlock()

	if f.FetchFunc == nil {
		return domain.Failed(domain.ReasonNotFound)
	}
	return f.FetchFunc(ctx, matchKey)
}

// ListCategories implements source.Adapter.
func (f *Fake) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if f.CategoriesFunc == nil {
		return nil, nil
	}
	return f.CategoriesFunc(ctx)
}

// CrawlDelay implements source.CrawlDelayer.
func (f *Fake) CrawlDelay() time.Duration { return f.Delay }

// NormalizeCategory implements source.Adapter.
func (f *Fake) NormalizeCategory(native string) string { return native }

// FetchedKeys returns the match keys FetchForProduct was called with, in order.
func (f *Fake) FetchedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchedKeys...)
}
