package reconciler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/reconciler"
)

var (
	oil  = domain.Product{ID: 1, Name: "Aceite Castrol 5W30", PartNumber: "CAS-5W30", Active: true}
	shop = domain.Store{ID: 2, Name: "repuestos", Active: true}
)

func success(price int64) domain.FetchOutcome {
	return domain.Succeeded(domain.FetchSuccess{
		Price:      decimal.NewFromInt(price),
		ProductURL: "https://shop.example/p/cas-5w30",
		InStock:    true,
	})
}

func newReconciler() *reconciler.Reconciler {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return reconciler.New(logger.NewNop(), reconciler.WithClock(func() time.Time { return clock }))
}

func TestReconcile_CreatesOnFirstSuccess(t *testing.T) {
	t.Parallel()

	store := catalog.NewMemory()
	res, err := newReconciler().Reconcile(context.Background(), store, oil, shop, success(25990))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionCreated, res.Action)
	assert.False(t, res.PriceDropped)
	assert.Nil(t, res.Offer.PreviousPrice)
	assert.False(t, res.Offer.IsMarkdown)
	assert.True(t, res.Offer.Available)
	assert.True(t, res.Offer.Active)
	assert.Equal(t, "https://shop.example/p/cas-5w30", res.Offer.SourceURL)
}

func TestReconcile_Markdown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := catalog.NewMemory()
	r := newReconciler()

	_, err := r.Reconcile(ctx, store, oil, shop, success(25990))
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, store, oil, shop, success(22000))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUpdated, res.Action)
	assert.True(t, res.PriceDropped)
	assert.True(t, res.Offer.IsMarkdown)
	require.NotNil(t, res.Offer.PreviousPrice)
	assert.True(t, res.Offer.PreviousPrice.Equal(decimal.NewFromInt(25990)))

	// a rise clears the markdown flag but keeps the last previous price
	res, err = r.Reconcile(ctx, store, oil, shop, success(24000))
	require.NoError(t, err)
	assert.False(t, res.PriceDropped)
	assert.False(t, res.Offer.IsMarkdown)
	require.NotNil(t, res.Offer.PreviousPrice)
	assert.True(t, res.Offer.PreviousPrice.Equal(decimal.NewFromInt(25990)))
	assert.True(t, res.Offer.Price.Equal(decimal.NewFromInt(24000)))

	// an equal price is not a markdown
	res, err = r.Reconcile(ctx, store, oil, shop, success(24000))
	require.NoError(t, err)
	assert.False(t, res.Offer.IsMarkdown)
}

func TestReconcile_FailureMarksUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := catalog.NewMemory()
	r := newReconciler()

	_, err := r.Reconcile(ctx, store, oil, shop, success(22000))
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, store, oil, shop, success(20000))
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, store, oil, shop, domain.Failed(domain.ReasonNotFound))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionMarkedUnavailable, res.Action)
	assert.False(t, res.Offer.Available)
	assert.True(t, res.Offer.Price.Equal(decimal.NewFromInt(20000)), "price untouched")
	require.NotNil(t, res.Offer.PreviousPrice)
	assert.True(t, res.Offer.PreviousPrice.Equal(decimal.NewFromInt(22000)))
	assert.True(t, res.Offer.IsMarkdown, "markdown flag untouched")

	res, err = r.Reconcile(ctx, store, oil, shop, success(20000))
	require.NoError(t, err)
	assert.True(t, res.Offer.Available)
}

func TestReconcile_FailureWithoutOfferIsNoop(t *testing.T) {
	t.Parallel()

	store := catalog.NewMemory()
	res, err := newReconciler().Reconcile(context.Background(), store, oil, shop, domain.Failed("timeout"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkipped, res.Action)
	assert.Empty(t, store.Offers())
}

func TestReconcile_NonPositivePriceIsFailure(t *testing.T) {
	t.Parallel()

	store := catalog.NewMemory()
	res, err := newReconciler().Reconcile(context.Background(), store, oil, shop, success(0))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkipped, res.Action)
}

func TestReconcile_ConcurrentSamePair(t *testing.T) {
	t.Parallel()

	const workers = 50
	ctx := context.Background()
	store := catalog.NewMemory()
	r := newReconciler()

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(price int64) {
			defer wg.Done()
			_, err := r.Reconcile(ctx, store, oil, shop, success(price))
			assert.NoError(t, err)
		}(int64(20000 + i))
	}
	wg.Wait()

	offers := store.Offers()
	require.Len(t, offers, 1)
	assert.Equal(t, int64(workers), offers[0].Version, "no lost update")
}

// conflictingStore fails the first n offer writes as if another process won.
type conflictingStore struct {
	*catalog.Memory
	remaining atomic.Int32
	writes    atomic.Int32
}

func (c *conflictingStore) UpsertOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	c.writes.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return domain.Offer{}, catalog.ErrVersionConflict
	}
	return c.Memory.UpsertOffer(ctx, o)
}

func TestReconcile_RetriesVersionConflict(t *testing.T) {
	t.Parallel()

	store := &conflictingStore{Memory: catalog.NewMemory()}
	store.remaining.Store(2)

	res, err := newReconciler().Reconcile(context.Background(), store, oil, shop, success(25990))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreated, res.Action)
	assert.Equal(t, int32(3), store.writes.Load())
}

func TestReconcile_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store := &conflictingStore{Memory: catalog.NewMemory()}
	store.remaining.Store(10)

	r := reconciler.New(logger.NewNop(), reconciler.WithMaxAttempts(2))
	_, err := r.Reconcile(context.Background(), store, oil, shop, success(25990))
	require.ErrorIs(t, err, catalog.ErrVersionConflict)
	assert.Equal(t, int32(2), store.writes.Load())
}
