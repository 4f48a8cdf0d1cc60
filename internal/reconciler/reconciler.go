// Package reconciler turns fetch outcomes into offer ledger writes.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

const (
	lockStripes = 64
	// DefaultMaxAttempts bounds re-reads after a version conflict.
	DefaultMaxAttempts = 3
)

// Result describes one reconcile.
type Result struct {
	Action       domain.ReconcileAction
	PriceDropped bool
	Offer        domain.Offer
}

// Reconciler upserts offers. Calls for the same (product, store) pair are
// serialized in-process by a striped mutex; writes from other processes are
// caught by the store's version check and retried.
type Reconciler struct {
	locks       [lockStripes]sync.Mutex
	maxAttempts int
	now         func() time.Time
	logger      logger.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithMaxAttempts sets how many times a conflicting write is retried.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// New creates a Reconciler.
func New(log logger.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) lock(key domain.PairKey) *sync.Mutex {
	h := uint64(key.ProductID)*31 + uint64(key.StoreID)
	return &r.locks[h%lockStripes]
}

// Reconcile applies outcome to the offer for (product, store) using q.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	q catalog.Queries,
	product domain.Product,
	store domain.Store,
	outcome domain.FetchOutcome,
) (Result, error) {
	key := domain.PairKey{ProductID: product.ID, StoreID: store.ID}
	mu := r.lock(key)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := r.apply(ctx, q, key, outcome)
		if !errors.Is(err, catalog.ErrVersionConflict) {
			return res, err
		}
		lastErr = err
		r.logger.Debug("Offer changed concurrently, retrying",
			logger.Pair(product.ID, store.ID),
			logger.Int("attempt", attempt),
		)
	}
	return Result{}, fmt.Errorf("reconcile %d/%d after %d attempts: %w", product.ID, store.ID, r.maxAttempts, lastErr)
}

func (r *Reconciler) apply(ctx context.Context, q catalog.Queries, key domain.PairKey, outcome domain.FetchOutcome) (Result, error) {
	existing, err := q.GetOffer(ctx, key.ProductID, key.StoreID)
	found := err == nil
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return Result{}, err
	}

	now := r.now().UTC()

	if !outcome.OK() || !outcome.Success.Price.IsPositive() {
		if !found {
			return Result{Action: domain.ActionSkipped}, nil
		}
		existing.Available = false
		existing.UpdatedAt = now
		stored, upsertErr := q.UpsertOffer(ctx, existing)
		if upsertErr != nil {
			return Result{}, upsertErr
		}
		return Result{Action: domain.ActionMarkedUnavailable, Offer: stored}, nil
	}

	s := outcome.Success
	if !found {
		stored, upsertErr := q.UpsertOffer(ctx, domain.Offer{
			ProductID: key.ProductID,
			StoreID:   key.StoreID,
			Price:     s.Price,
			Available: true,
			SourceURL: s.ProductURL,
			Active:    true,
			UpdatedAt: now,
		})
		if upsertErr != nil {
			return Result{}, upsertErr
		}
		return Result{Action: domain.ActionCreated, Offer: stored}, nil
	}

	dropped := s.Price.LessThan(existing.Price)
	if dropped {
		old := existing.Price
		existing.PreviousPrice = &old
	}
	existing.IsMarkdown = dropped
	existing.Price = s.Price
	existing.Available = true
	existing.Active = true
	if s.ProductURL != "" {
		existing.SourceURL = s.ProductURL
	}
	existing.UpdatedAt = now

	stored, err := q.UpsertOffer(ctx, existing)
	if err != nil {
		return Result{}, err
	}
	return Result{Action: domain.ActionUpdated, PriceDropped: dropped, Offer: stored}, nil
}
