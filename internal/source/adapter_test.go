package source_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
	"github.com/jonesrussell/north-cloud/partprice/internal/source/sourcetest"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	a := &sourcetest.Fake{SourceName: "Marketplace"}
	b := &sourcetest.Fake{SourceName: "autoplanet"}
	r, err := source.NewRegistry(a, b)
	require.NoError(t, err)

	got, err := r.Get("marketplace")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, source.ErrUnknownSource)

	require.Error(t, r.Register(&sourcetest.Fake{SourceName: "MARKETPLACE"}))
	require.Error(t, r.Register(&sourcetest.Fake{}))

	all := r.All()
	require.Len(t, all, 2)
	assert.Same(t, a, all[0])
	assert.Equal(t, []string{"Marketplace", "autoplanet"}, r.Names())
}

func TestCategoryNormalizer(t *testing.T) {
	t.Parallel()

	n := source.NewCategoryNormalizer(map[string]string{"Lubricantes y Aceites": "aceites"})
	assert.Equal(t, "aceites", n.Normalize("lubricantes y  ACEITES"))
	assert.Equal(t, "frenos", n.Normalize("Frénos"))
}

func offers(prices ...int64) []domain.NormalizedOffer {
	out := make([]domain.NormalizedOffer, 0, len(prices))
	for _, p := range prices {
		out = append(out, domain.NormalizedOffer{Title: "aceite castrol", Price: decimal.NewFromInt(p)})
	}
	return out
}

func TestSearchCache_ReadThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := &sourcetest.Fake{
		SourceName: "a",
		SearchFunc: func(context.Context, string, string, int) ([]domain.NormalizedOffer, error) {
			return offers(25990, 30000), nil
		},
	}
	sc := source.NewSearchCache(cache.NewMemory(), time.Minute, false, logger.NewNop())
	cached := sc.Wrap(fake)

	first, err := cached.Search(ctx, "aceite castrol", "", 10)
	require.NoError(t, err)
	second, err := cached.Search(ctx, "aceite castrol", "", 10)
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.SearchCalls.Load())
	require.Len(t, second, 2)
	assert.True(t, first[0].Price.Equal(second[0].Price))

	// different limit is a different key
	_, err = cached.Search(ctx, "aceite castrol", "", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.SearchCalls.Load())
}

func TestSearchCache_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var fail = true
	fake := &sourcetest.Fake{
		SourceName: "a",
		SearchFunc: func(context.Context, string, string, int) ([]domain.NormalizedOffer, error) {
			if fail {
				return nil, errors.New("upstream down")
			}
			return offers(1), nil
		},
	}
	cached := source.NewSearchCache(cache.NewMemory(), time.Minute, false, logger.NewNop()).Wrap(fake)

	_, err := cached.Search(ctx, "filtro", "", 10)
	require.Error(t, err)

	fail = false
	got, err := cached.Search(ctx, "filtro", "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearchCache_FoldKeysAndInvalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := &sourcetest.Fake{
		SourceName: "a",
		SearchFunc: func(context.Context, string, string, int) ([]domain.NormalizedOffer, error) {
			return offers(1), nil
		},
	}
	sc := source.NewSearchCache(cache.NewMemory(), time.Minute, true, logger.NewNop())
	cached := sc.Wrap(fake)

	_, _ = cached.Search(ctx, "Bujía NGK", "", 10)
	_, _ = cached.Search(ctx, "bujia  ngk", "", 10)
	assert.Equal(t, int32(1), fake.SearchCalls.Load())

	require.NoError(t, sc.Invalidate(ctx, "a"))
	_, _ = cached.Search(ctx, "bujia ngk", "", 10)
	assert.Equal(t, int32(2), fake.SearchCalls.Load())
}

func TestSearchCache_ExactKeysByDefault(t *testing.T) {
	t.Parallel()

	sc := source.NewSearchCache(cache.NewMemory(), 0, false, logger.NewNop())
	assert.NotEqual(t, sc.Key("a", "Bujía", "", 10), sc.Key("a", "bujia", "", 10))
	assert.Equal(t, "search:a:Bujía:motor:10", sc.Key("a", "Bujía", "motor", 10))
}

func TestSearchCache_CollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fake := &sourcetest.Fake{
		SourceName: "a",
		SearchFunc: func(context.Context, string, string, int) ([]domain.NormalizedOffer, error) {
			<-release
			return offers(1), nil
		},
	}
	cached := source.NewSearchCache(cache.NewMemory(), time.Minute, false, logger.NewNop()).Wrap(fake)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cached.Search(context.Background(), "x", "", 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fake.SearchCalls.Load())
}

func TestSearchCache_SharedCallSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake := &sourcetest.Fake{
		SourceName: "a",
		SearchFunc: func(ctx context.Context, _, _ string, _ int) ([]domain.NormalizedOffer, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return offers(1), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	cached := source.NewSearchCache(cache.NewMemory(), time.Minute, false, logger.NewNop()).Wrap(fake)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.Search(firstCtx, "x", "", 1)
		firstErr <- err
	}()
	<-started

	type result struct {
		offers []domain.NormalizedOffer
		err    error
	}
	second := make(chan result, 1)
	go func() {
		got, err := cached.Search(context.Background(), "x", "", 1)
		second <- result{got, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.offers, 1)
	assert.Equal(t, int32(1), fake.SearchCalls.Load())
}

func TestSearchCache_CallTimeoutBoundsSharedSearch(t *testing.T) {
	t.Parallel()

	fake := &sourcetest.Fake{
		SourceName: "a",
		SearchFunc: func(ctx context.Context, _, _ string, _ int) ([]domain.NormalizedOffer, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	sc := source.NewSearchCache(cache.NewMemory(), time.Minute, false, logger.NewNop(),
		source.WithCallTimeout(20*time.Millisecond))

	_, err := sc.Wrap(fake).Search(context.Background(), "x", "", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCrawlDelayOf(t *testing.T) {
	t.Parallel()

	fake := &sourcetest.Fake{SourceName: "a", Delay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, source.CrawlDelayOf(fake))

	cached := source.NewSearchCache(cache.NewMemory(), time.Minute, false, logger.NewNop()).Wrap(fake)
	assert.Equal(t, 3*time.Second, source.CrawlDelayOf(cached), "cache wrapper keeps the delay visible")

	assert.Zero(t, source.CrawlDelayOf(struct{ source.Adapter }{fake}))
}
