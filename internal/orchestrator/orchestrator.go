// Package orchestrator drives the scheduled refresh of every (product,
// store) offer and on-demand bulk refreshes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/reconciler"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
)

const (
	// DefaultCycleInterval is the time between scheduled cycles.
	DefaultCycleInterval = 6 * time.Hour
	// DefaultDelay spaces consecutive requests to one source.
	DefaultDelay = 2 * time.Second
	// DefaultBulkParallelism bounds concurrent product refreshes.
	DefaultBulkParallelism = 4
)

// ErrCycleInProgress is returned when a cycle is requested while one runs.
var ErrCycleInProgress = errors.New("orchestrator: cycle already in progress")

// State is the orchestrator's lifecycle state.
type State int32

// Orchestrator states.
const (
	StateIdle State = iota
	StateRunningCycle
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunningCycle:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds orchestrator settings.
type Config struct {
	CycleInterval   time.Duration
	DefaultDelay    time.Duration
	BulkParallelism int
	// SourceDelays overrides DefaultDelay per source name.
	SourceDelays map[string]time.Duration
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = DefaultCycleInterval
	}
	if c.DefaultDelay < 0 {
		c.DefaultDelay = 0
	}
	if c.BulkParallelism <= 0 {
		c.BulkParallelism = DefaultBulkParallelism
	}
}

// CycleReport summarizes one cycle or bulk refresh.
type CycleReport struct {
	ID                string        `json:"id"`
	Mode              string        `json:"mode"`
	Processed         int           `json:"processed"`
	Succeeded         int           `json:"succeeded"`
	Failed            int           `json:"failed"`
	PersistenceErrors int           `json:"persistenceErrors"`
	Skipped           int           `json:"skipped"`
	PriceDrops        int           `json:"priceDrops"`
	StartedAt         time.Time     `json:"startedAt"`
	Duration          time.Duration `json:"duration"`
	Cancelled         bool          `json:"cancelled"`
}

// Report modes.
const (
	ModeCycle = "cycle"
	ModeBulk  = "bulk"
)

// Telemetry receives cycle measurements. Optional.
type Telemetry interface {
	ObserveCycle(report CycleReport)
	ObserveReconcile(source string, action domain.ReconcileAction, priceDropped bool)
	SetState(state State)
}

// Invalidator drops cached searches of a source.
type Invalidator interface {
	Invalidate(ctx context.Context, source string) error
}

// Orchestrator runs refresh cycles.
type Orchestrator struct {
	cfg         Config
	store       catalog.Store
	registry    *source.Registry
	reconciler  *reconciler.Reconciler
	pacer       *pacer
	invalidator Invalidator
	telemetry   Telemetry
	logger      logger.Logger

	state atomic.Int32
	last  atomic.Pointer[CycleReport]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInvalidator drops a source's cached searches after a cycle refreshed it.
func WithInvalidator(inv Invalidator) Option {
	return func(o *Orchestrator) { o.invalidator = inv }
}

// WithTelemetry attaches a measurement sink.
func WithTelemetry(t Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

// New creates an Orchestrator.
func New(
	cfg Config,
	store catalog.Store,
	registry *source.Registry,
	rec *reconciler.Reconciler,
	log logger.Logger,
	opts ...Option,
) *Orchestrator {
	cfg.SetDefaults()
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		reconciler: rec,
		pacer:      newPacer(cfg.DefaultDelay, cfg.SourceDelays),
		logger:     log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	if o.telemetry != nil {
		o.telemetry.SetState(s)
	}
}

// LastReport returns the most recent finished cycle, if any.
func (o *Orchestrator) LastReport() (CycleReport, bool) {
	r := o.last.Load()
	if r == nil {
		return CycleReport{}, false
	}
	return *r, true
}

// Run executes a cycle immediately and then every CycleInterval until ctx
// is cancelled. A tick that fires while a cycle still runs is skipped.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Starting orchestrator",
		logger.Duration("cycle_interval", o.cfg.CycleInterval),
		logger.Duration("default_delay", o.cfg.DefaultDelay),
	)

	cl := cronLogger{log: o.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	job := c.Schedule(cron.Every(o.cfg.CycleInterval), cron.FuncJob(func() { o.scheduledCycle(ctx) }))

	// the first run goes through the same chain so ticks skip while it runs
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		c.Entry(job).WrappedJob.Run()
	}()
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	first.Wait()

	o.setState(StateStopped)
	o.logger.Info("Orchestrator stopped")
	return nil
}

func (o *Orchestrator) scheduledCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		o.logger.Error("Cycle failed", logger.Error(err))
	}
}

// RunCycle refreshes every active (product, store) pair once.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunningCycle)) &&
		!o.state.CompareAndSwap(int32(StateStopped), int32(StateRunningCycle)) {
		return CycleReport{}, ErrCycleInProgress
	}
	if o.telemetry != nil {
		o.telemetry.SetState(StateRunningCycle)
	}
	defer o.setState(StateIdle)

	report := newReport(ModeCycle)
	log := o.logger.With(logger.String("cycle_id", report.ID))
	log.Info("Cycle started")

	session, err := o.store.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("begin session: %w", err)
	}
	defer session.Close()

	products, err := session.ActiveProducts(ctx)
	if err != nil {
		return report, fmt.Errorf("load products: %w", err)
	}
	stores, err := session.ActiveStores(ctx)
	if err != nil {
		return report, fmt.Errorf("load stores: %w", err)
	}

	var tally tally
pairs:
	for _, p := range products {
		for _, s := range stores {
			if ctx.Err() != nil {
				break pairs
			}
			if !o.processPair(ctx, session, p, s, &tally, log) {
				break pairs
			}
		}
	}

	return o.finish(ctx, report, &tally, log), nil
}

// RefreshProducts refreshes the given products against every active store,
// running at most BulkParallelism products at once. Unknown ids are skipped.
// Workers share the store's pool rather than one pinned session.
func (o *Orchestrator) RefreshProducts(ctx context.Context, productIDs []int64) (CycleReport, error) {
	report := newReport(ModeBulk)
	log := o.logger.With(logger.String("cycle_id", report.ID))
	log.Info("Bulk refresh started", logger.Int("products", len(productIDs)))

	stores, err := o.store.ActiveStores(ctx)
	if err != nil {
		return report, fmt.Errorf("load stores: %w", err)
	}

	var (
		tally tally
		wg    sync.WaitGroup
		sem   = semaphore.NewWeighted(int64(o.cfg.BulkParallelism))
	)
	for _, id := range productIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		p, err := o.store.Product(ctx, id)
		if err != nil {
			sem.Release(1)
			log.Warn("Skipping product", logger.Int64("product_id", id), logger.Error(err))
			tally.add(func(r *CycleReport) { r.Skipped++ })
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			for _, s := range stores {
				if ctx.Err() != nil || !o.processPair(ctx, o.store, p, s, &tally, log) {
					return
				}
			}
		}()
	}
	wg.Wait()

	return o.finish(ctx, report, &tally, log), nil
}

// processPair fetches and reconciles one pair. It returns false when the
// caller should stop scheduling pairs.
func (o *Orchestrator) processPair(
	ctx context.Context,
	q catalog.Queries,
	p domain.Product,
	s domain.Store,
	t *tally,
	log logger.Logger,
) bool {
	adapter, err := o.registry.Get(s.Name)
	if err != nil {
		log.Warn("No adapter for store, skipping",
			logger.String("store", s.Name),
			logger.Pair(p.ID, s.ID),
		)
		t.add(func(r *CycleReport) { r.Skipped++ })
		return true
	}

	if err := o.pacer.Wait(ctx, adapter.Name(), source.CrawlDelayOf(adapter)); err != nil {
		return false
	}

	outcome := adapter.FetchForProduct(ctx, p.MatchKey())
	if ctx.Err() != nil && !outcome.OK() {
		// the failure is ours, not the source's
		return false
	}

	// a fetched price is persisted even if cancellation arrived meanwhile
	res, err := o.reconciler.Reconcile(context.WithoutCancel(ctx), q, p, s, outcome)

	t.add(func(r *CycleReport) {
		r.Processed++
		if outcome.OK() {
			r.Succeeded++
		} else {
			r.Failed++
		}
		if err != nil {
			r.PersistenceErrors++
		}
		if res.PriceDropped {
			r.PriceDrops++
		}
	})
	if outcome.OK() {
		t.touch(adapter.Name())
	}

	if err != nil {
		log.Error("Reconcile failed",
			logger.Source(adapter.Name()),
			logger.Pair(p.ID, s.ID),
			logger.Error(err),
		)
		return true
	}
	if o.telemetry != nil {
		o.telemetry.ObserveReconcile(adapter.Name(), res.Action, res.PriceDropped)
	}

	fields := []logger.Field{
		logger.Source(adapter.Name()),
		logger.Pair(p.ID, s.ID),
		logger.String("action", string(res.Action)),
	}
	if !outcome.OK() {
		fields = append(fields, logger.String("reason", outcome.Reason()))
	}
	if res.PriceDropped {
		fields = append(fields, logger.Price("price", res.Offer.Price))
		log.Info("Price drop", fields...)
	} else {
		log.Debug("Pair reconciled", fields...)
	}
	return true
}

func (o *Orchestrator) finish(ctx context.Context, report CycleReport, t *tally, log logger.Logger) CycleReport {
	t.mu.Lock()
	report.Processed = t.report.Processed
	report.Succeeded = t.report.Succeeded
	report.Failed = t.report.Failed
	report.PersistenceErrors = t.report.PersistenceErrors
	report.Skipped = t.report.Skipped
	report.PriceDrops = t.report.PriceDrops
	touched := t.touched
	t.mu.Unlock()

	report.Cancelled = ctx.Err() != nil
	report.Duration = time.Since(report.StartedAt)

	if o.invalidator != nil {
		invalidateCtx := context.WithoutCancel(ctx)
		for src := range touched {
			if err := o.invalidator.Invalidate(invalidateCtx, src); err != nil {
				log.Warn("Failed to invalidate cached searches", logger.Source(src), logger.Error(err))
			}
		}
	}

	o.last.Store(&report)
	if o.telemetry != nil {
		o.telemetry.ObserveCycle(report)
	}

	log.Info("Cycle finished",
		logger.String("mode", report.Mode),
		logger.Int("processed", report.Processed),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", report.Failed),
		logger.Int("persistence_errors", report.PersistenceErrors),
		logger.Int("skipped", report.Skipped),
		logger.Int("price_drops", report.PriceDrops),
		logger.Bool("cancelled", report.Cancelled),
		logger.Duration("duration", report.Duration),
	)
	return report
}

func newReport(mode string) CycleReport {
	return CycleReport{ID: uuid.NewString(), Mode: mode, StartedAt: time.Now().UTC()}
}

// tally accumulates counters from concurrent pair workers.
type tally struct {
	mu      sync.Mutex
	report  CycleReport
	touched map[string]struct{}
}

func (t *tally) add(fn func(*CycleReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.report)
}

func (t *tally) touch(src string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.touched == nil {
		t.touched = make(map[string]struct{})
	}
	t.touched[src] = struct{}{}
}
