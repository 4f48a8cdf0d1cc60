// Package aggregator fans a search out to every registered source and merges
// the answers into one ranked result.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
)

// DefaultLimit applies when a caller passes limit <= 0.
const DefaultLimit = 20

const avgPricePlaces = 2

// Telemetry receives per-source and per-call measurements. Optional.
type Telemetry interface {
	ObserveSourceSearch(source string, success bool, latency time.Duration)
	ObserveAggregate(latency time.Duration, results int)
}

// Aggregator queries the registry's adapters concurrently.
type Aggregator struct {
	registry     *source.Registry
	defaultLimit int
	telemetry    Telemetry
	logger       logger.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDefaultLimit overrides DefaultLimit.
func WithDefaultLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.defaultLimit = n
		}
	}
}

// WithTelemetry attaches a measurement sink.
func WithTelemetry(t Telemetry) Option {
	return func(a *Aggregator) { a.telemetry = t }
}

// New creates an Aggregator over registry.
func New(registry *source.Registry, log logger.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:     registry,
		defaultLimit: DefaultLimit,
		logger:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type branch struct {
	offers []domain.NormalizedOffer
	diag   domain.SourceDiagnostic
}

// Aggregate searches every source for term. It never fails: each source's
// failure is reported in PerSourceDiagnostics. Offers are sorted by ascending
// price and truncated to limit; the price statistics describe the returned
// offers only.
func (a *Aggregator) Aggregate(ctx context.Context, term, category string, limit int) domain.AggregatedResult {
	start := time.Now()
	term = strings.TrimSpace(term)
	if limit <= 0 {
		limit = a.defaultLimit
	}

	result := domain.AggregatedResult{
		Term:                 term,
		Category:             category,
		Offers:               []domain.NormalizedOffer{},
		PerSourceDiagnostics: []domain.SourceDiagnostic{},
	}
	if term == "" {
		return result
	}

	adapters := a.registry.All()
	branches := make([]branch, len(adapters))

	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			branches[i] = a.search(ctx, adapter, term, category, limit)
		}()
	}
	wg.Wait()

	var merged []domain.NormalizedOffer
	for _, b := range branches {
		merged = append(merged, b.offers...)
		result.PerSourceDiagnostics = append(result.PerSourceDiagnostics, b.diag)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Price.LessThan(merged[j].Price)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged != nil {
		result.Offers = merged
	}
	result.TotalResults = len(result.Offers)
	result.MinPrice, result.MaxPrice, result.AvgPrice = stats(result.Offers)

	elapsed := time.Since(start)
	result.TotalLatencyMs = elapsed.Milliseconds()
	if a.telemetry != nil {
		a.telemetry.ObserveAggregate(elapsed, result.TotalResults)
	}

	a.logger.Info("Aggregated search",
		logger.String("term", term),
		logger.String("category", category),
		logger.Int("results", result.TotalResults),
		logger.Int("sources", len(adapters)),
		logger.Duration("duration", elapsed),
	)
	return result
}

// search runs one branch. Errors and panics stay inside the branch.
func (a *Aggregator) search(ctx context.Context, adapter source.Adapter, term, category string, limit int) (b branch) {
	start := time.Now()
	b.diag.Source = adapter.Name()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Source search panic recovered",
				logger.Source(adapter.Name()),
				logger.Any("panic", r),
			)
			b.offers = nil
			b.diag.Success = false
			b.diag.Count = 0
			b.diag.Error = fmt.Sprintf("panic: %v", r)
		}
		latency := time.Since(start)
		b.diag.LatencyMs = latency.Milliseconds()
		if a.telemetry != nil {
			a.telemetry.ObserveSourceSearch(b.diag.Source, b.diag.Success, latency)
		}
	}()

	if !adapter.IsAvailable(ctx) {
		b.diag.Error = domain.ReasonUnavailable
		return b
	}

	offers, err := adapter.Search(ctx, term, category, limit)
	if err != nil {
		a.logger.Warn("Source search failed",
			logger.Source(adapter.Name()),
			logger.String("term", term),
			logger.Error(err),
		)
		b.diag.Error = err.Error()
		return b
	}

	b.offers = offers
	b.diag.Success = true
	b.diag.Count = len(offers)
	return b
}

// stats returns min, max and the average rounded to cents. All zero when
// offers is empty.
func stats(offers []domain.NormalizedOffer) (minPrice, maxPrice, avgPrice decimal.Decimal) {
	if len(offers) == 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	prices := make([]decimal.Decimal, len(offers))
	for i, o := range offers {
		prices[i] = o.Price
	}
	minPrice = decimal.Min(prices[0], prices[1:]...)
	maxPrice = decimal.Max(prices[0], prices[1:]...)
	avgPrice = decimal.Avg(prices[0], prices[1:]...).Round(avgPricePlaces)
	return minPrice, maxPrice, avgPrice
}

// CheckAvailability reports each source's availability.
func (a *Aggregator) CheckAvailability(ctx context.Context) map[string]bool {
	adapters := a.registry.All()
	available := make([]bool, len(adapters))

	a.each(adapters, func(i int, adapter source.Adapter) {
		available[i] = adapter.IsAvailable(ctx)
	})

	out := make(map[string]bool, len(adapters))
	for i, adapter := range adapters {
		out[adapter.Name()] = available[i]
	}
	return out
}

// ListAllCategories collects every available source's categories. A source
// that fails contributes an empty list.
func (a *Aggregator) ListAllCategories(ctx context.Context) map[string][]domain.Category {
	adapters := a.registry.All()
	lists := make([][]domain.Category, len(adapters))

	a.each(adapters, func(i int, adapter source.Adapter) {
		if !adapter.IsAvailable(ctx) {
			return
		}
		cats, err := adapter.ListCategories(ctx)
		if err != nil {
			a.logger.Warn("Source categories failed",
				logger.Source(adapter.Name()),
				logger.Error(err),
			)
			return
		}
		lists[i] = cats
	})

	out := make(map[string][]domain.Category, len(adapters))
	for i, adapter := range adapters {
		if lists[i] == nil {
			lists[i] = []domain.Category{}
		}
		out[adapter.Name()] = lists[i]
	}
	return out
}

// each runs fn for every adapter concurrently, recovering panics per adapter.
func (a *Aggregator) each(adapters []source.Adapter, fn func(int, source.Adapter)) {
	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("Source call panic recovered",
						logger.Source(adapter.Name()),
						logger.Any("panic", r),
					)
				}
			}()
			fn(i, adapter)
		}()
	}
	wg.Wait()
}
