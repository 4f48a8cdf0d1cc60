package source

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/pricing"
)

const (
	// DefaultSearchTTL is how long search results are memoized.
	DefaultSearchTTL = 15 * time.Minute
	// DefaultSearchCallTimeout bounds a shared upstream search.
	DefaultSearchCallTimeout = 2 * time.Minute
)

// SearchCache memoizes adapter searches. Identical concurrent misses share
// one upstream call. Cache backend errors degrade to uncached searches.
type SearchCache struct {
	cache       cache.Cache
	ttl         time.Duration
	callTimeout time.Duration
	foldKeys    bool
	logger      logger.Logger
	group       singleflight.Group
}

// SearchCacheOption configures a SearchCache.
type SearchCacheOption func(*SearchCache)

// WithCallTimeout bounds each shared upstream search. The bound applies
// instead of any single caller's deadline.
func WithCallTimeout(d time.Duration) SearchCacheOption {
	return func(s *SearchCache) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// NewSearchCache creates a SearchCache. With foldKeys, terms differing only
// in case, accents or spacing share an entry.
func NewSearchCache(
	c cache.Cache,
	ttl time.Duration,
	foldKeys bool,
	log logger.Logger,
	opts ...SearchCacheOption,
) *SearchCache {
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}
	s := &SearchCache{
		cache:       c,
		ttl:         ttl,
		callTimeout: DefaultSearchCallTimeout,
		foldKeys:    foldKeys,
		logger:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchPrefix is the key prefix holding every cached search of a source.
func SearchPrefix(source string) string {
	return "search:" + source + ":"
}

// Key builds the cache key for a search.
func (s *SearchCache) Key(source, term, category string, limit int) string {
	if s.foldKeys {
		term, category = pricing.Fold(term), pricing.Fold(category)
	}
	return fmt.Sprintf("%s%s:%s:%d", SearchPrefix(source), term, category, limit)
}

// Invalidate drops every cached search of source.
func (s *SearchCache) Invalidate(ctx context.Context, source string) error {
	return s.cache.RemoveByPrefix(ctx, SearchPrefix(source))
}

// Wrap returns a with a read-through memoized Search.
func (s *SearchCache) Wrap(a Adapter) Adapter {
	return &cachedAdapter{Adapter: a, cache: s}
}

type cachedAdapter struct {
	Adapter
	cache *SearchCache
}

func (c *cachedAdapter) Search(ctx context.Context, term, category string, limit int) ([]domain.NormalizedOffer, error) {
	s := c.cache
	key := s.Key(c.Name(), term, category, limit)
	log := s.logger.With(logger.Source(c.Name()), logger.String("cache_key", key))

	offers, found, err := cache.GetJSON[[]domain.NormalizedOffer](ctx, s.cache, key)
	if err != nil {
		log.Warn("Search cache read failed", logger.Error(err))
	}
	if found {
		log.Debug("Search cache hit")
		return offers, nil
	}

	// The shared call outlives any one caller; a caller that gives up
	// leaves it running for the others.
	ch := s.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
		defer cancel()

		fresh, searchErr := c.Adapter.Search(callCtx, term, category, limit)
		if searchErr != nil {
			return nil, searchErr
		}
		if setErr := cache.SetJSON(callCtx, s.cache, key, fresh, s.ttl); setErr != nil {
			log.Warn("Search cache write failed", logger.Error(setErr))
		}
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		log.Debug("Search cache miss", logger.Bool("shared", res.Shared))
		return res.Val.([]domain.NormalizedOffer), nil
	}
}

// CrawlDelay forwards the wrapped adapter's advertised delay.
func (c *cachedAdapter) CrawlDelay() time.Duration {
	return CrawlDelayOf(c.Adapter)
}
