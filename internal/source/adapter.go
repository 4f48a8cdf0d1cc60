// Package source defines the contract every external price source
// implements and the registry the aggregator and orchestrator share.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/pricing"
)

// ErrUnknownSource is returned when no adapter is registered under a name.
var ErrUnknownSource = errors.New("unknown source")

// Adapter is one external source. Source failures never panic: Search and
// ListCategories return errors, FetchForProduct returns a Failure outcome.
type Adapter interface {
	Name() string
	// IsAvailable reports whether the adapter is configured and enabled.
	// It does no network I/O.
	IsAvailable(ctx context.Context) bool
	Search(ctx context.Context, term, category string, limit int) ([]domain.NormalizedOffer, error)
	FetchForProduct(ctx context.Context, matchKey string) domain.FetchOutcome
	ListCategories(ctx context.Context) ([]domain.Category, error)
	// NormalizeCategory maps a source-native category name onto the shared vocabulary.
	NormalizeCategory(native string) string
}

// CrawlDelayer is implemented by adapters whose source advertises a
// minimum spacing between requests.
type CrawlDelayer interface {
	CrawlDelay() time.Duration
}

// CrawlDelayOf returns a's advertised crawl delay, or 0 when it has none.
func CrawlDelayOf(a Adapter) time.Duration {
	if d, ok := a.(CrawlDelayer); ok {
		return d.CrawlDelay()
	}
	return 0
}

// Registry holds the adapters built at startup, in registration order.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	byName   map[string]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{byName: make(map[string]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Names are matched case-insensitively and must be unique.
func (r *Registry) Register(a Adapter) error {
	key := strings.ToLower(a.Name())
	if key == "" {
		return errors.New("register source: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("register source %q: already registered", a.Name())
	}
	r.adapters = append(r.adapters, a)
	r.byName[key] = a
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return a, nil
}

// All returns the adapters in registration order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Adapter(nil), r.adapters...)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	sort.Strings(names)
	return names
}

// CategoryNormalizer maps native category names through an alias table.
// Keys of the table are compared after folding; unknown names are returned folded.
type CategoryNormalizer struct {
	aliases map[string]string
}

// NewCategoryNormalizer builds a normalizer from native→canonical aliases.
func NewCategoryNormalizer(aliases map[string]string) CategoryNormalizer {
	folded := make(map[string]string, len(aliases))
	for native, canonical := range aliases {
		folded[pricing.Fold(native)] = canonical
	}
	return CategoryNormalizer{aliases: folded}
}

// Normalize returns the canonical name for native.
func (n CategoryNormalizer) Normalize(native string) string {
	key := pricing.Fold(native)
	if canonical, ok := n.aliases[key]; ok {
		return canonical
	}
	return key
}
