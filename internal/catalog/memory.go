package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

// Memory is an in-process Store. Offers are compare-and-swapped on Version.
type Memory struct {
	mu         sync.RWMutex
	products   map[int64]domain.Product
	stores     map[int64]domain.Store
	offers     map[domain.PairKey]domain.Offer
	categories map[int64]string
	nextID     int64
	now        func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		products:   make(map[int64]domain.Product),
		stores:     make(map[int64]domain.Store),
		offers:     make(map[domain.PairKey]domain.Offer),
		categories: make(map[int64]string),
		now:        time.Now,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// AddCategory registers a category name and returns its id.
func (m *Memory) AddCategory(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.id()
	m.categories[id] = name
	return id
}

// Begin implements Store. Memory sessions share the store itself.
func (m *Memory) Begin(context.Context) (Session, error) {
	return memorySession{m}, nil
}

type memorySession struct {
	*Memory
}

func (memorySession) Close() error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

// SaveProduct implements Store.
func (m *Memory) SaveProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.PartNumber != "" {
		for id, existing := range m.products {
			if strings.EqualFold(existing.PartNumber, p.PartNumber) {
				p.ID = id
				break
			}
		}
	}
	if p.ID == 0 {
		p.ID = m.id()
	}
	m.products[p.ID] = p
	return p, nil
}

// EnsureStore implements Store.
func (m *Memory) EnsureStore(_ context.Context, name, baseURL string) (domain.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.stores {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	s := domain.Store{ID: m.id(), Name: name, BaseURL: baseURL, Active: true}
	m.stores[s.ID] = s
	return s, nil
}

// SetStoreActive toggles a store.
func (m *Memory) SetStoreActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[id]; ok {
		s.Active = active
		m.stores[id] = s
	}
}

// ActiveProducts implements Queries.
func (m *Memory) ActiveProducts(context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Product
	for _, p := range m.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ActiveStores implements Queries.
func (m *Memory) ActiveStores(context.Context) ([]domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Store
	for _, s := range m.stores {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Product implements Queries.
func (m *Memory) Product(_ context.Context, id int64) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, nil
}

// Store implements Queries.
func (m *Memory) Store(_ context.Context, id int64) (domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[id]
	if !ok {
		return domain.Store{}, fmt.Errorf("store %d: %w", id, ErrNotFound)
	}
	return s, nil
}

// GetOffer implements Queries.
func (m *Memory) GetOffer(_ context.Context, productID, storeID int64) (domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.offers[domain.PairKey{ProductID: productID, StoreID: storeID}]
	if !ok {
		return domain.Offer{}, fmt.Errorf("offer %d/%d: %w", productID, storeID, ErrNotFound)
	}
	return o, nil
}

// UpsertOffer implements Queries.
func (m *Memory) UpsertOffer(_ context.Context, o domain.Offer) (domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := o.Key()
	current, exists := m.offers[key]
	now := m.now().UTC()

	switch {
	case o.Version == 0 && exists:
		return domain.Offer{}, fmt.Errorf("create offer %d/%d: %w", o.ProductID, o.StoreID, ErrVersionConflict)
	case o.Version == 0:
		o.ID = m.id()
		o.CreatedAt = now
	case !exists || current.Version != o.Version:
		return domain.Offer{}, fmt.Errorf("update offer %d/%d: %w", o.ProductID, o.StoreID, ErrVersionConflict)
	default:
		o.ID = current.ID
		o.CreatedAt = current.CreatedAt
	}

	o.Version++
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	m.offers[key] = o
	return o, nil
}

// Offers returns every stored offer ordered by id.
func (m *Memory) Offers() []domain.Offer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Offer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Categories implements Queries.
func (m *Memory) Categories(context.Context) ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Category, 0, len(m.categories))
	for id, name := range m.categories {
		out = append(out, domain.Category{ID: strconv.FormatInt(id, 10), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
