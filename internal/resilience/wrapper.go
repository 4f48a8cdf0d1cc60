// Package resilience wraps every outbound source call in a per-attempt
// timeout, exponential-backoff retry and a per-host circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/north-cloud/partprice/infrastructure/errors"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
)

// Config holds the resilience policy shared by every adapter.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryBaseDelay is the delay before the first retry; it doubles after each.
	RetryBaseDelay time.Duration
	// MaxRetryDelay caps the backoff delay.
	MaxRetryDelay time.Duration
	// FailureThreshold consecutive failures open a host's circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls.
	Cooldown time.Duration
}

// DefaultConfig mirrors the documented configuration defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   2 * time.Second,
		MaxRetryDelay:    30 * time.Second,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	}
}

// Decision describes what the wrapper did for one call.
type Decision struct {
	Host string
	// Attempted is false when the circuit rejected the first attempt.
	Attempted bool
	// ShortCircuited is true when any attempt was rejected by the circuit.
	ShortCircuited bool
	Retries        int
	Duration       time.Duration
	Class          Class
	Err            error
}

// Observer receives every Decision.
type Observer interface {
	ObserveDecision(d Decision)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(d Decision)

// ObserveDecision calls f(d).
func (f ObserverFunc) ObserveDecision(d Decision) { f(d) }

// Wrapper applies the resilience policy. One Wrapper is shared by all
// adapters so breaker state is per host across every caller.
type Wrapper struct {
	config    Config
	breakers  *circuitbreaker.Registry
	observers []Observer
	logger    logger.Logger
}

// Option customises a Wrapper.
type Option func(*Wrapper)

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(w *Wrapper) { w.observers = append(w.observers, o) }
}

// WithStateChange registers a callback for circuit transitions.
func WithStateChange(fn func(host string, from, to circuitbreaker.State)) Option {
	return func(w *Wrapper) {
		w.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: w.config.FailureThreshold,
			Cooldown:         w.config.Cooldown,
			OnStateChange:    fn,
		})
	}
}

// New creates a Wrapper.
func New(cfg Config, log logger.Logger, opts ...Option) *Wrapper {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaults.MaxRetryDelay
	}

	w := &Wrapper{
		config: cfg,
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         cfg.Cooldown,
		}),
		logger: log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Breakers exposes the per-host breaker registry.
func (w *Wrapper) Breakers() *circuitbreaker.Registry {
	return w.breakers
}

// Do runs fn under the policy for host. fn receives a context bounded by
// the per-attempt timeout and must finish all I/O before returning.
// The returned error is the last attempt's error; retry mechanics stay hidden.
func (w *Wrapper) Do(ctx context.Context, host string, fn func(ctx context.Context) error) error {
	start := time.Now()
	breaker := w.breakers.Get(host)
	d := Decision{Host: host}

	operation := func() error {
		ticket, err := breaker.Allow()
		if err != nil {
			d.ShortCircuited = true
			return backoff.Permanent(err)
		}
		d.Attempted = true

		attemptCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		err = fn(attemptCtx)
		cancel()

		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = attemptTimeout(err)
		}

		switch {
		case err == nil:
			ticket.Success()
			return nil
		case ctx.Err() != nil:
			ticket.Cancel()
			return backoff.Permanent(err)
		case Classify(err) == ClassPermanent:
			// the host answered; only transient failures count against it
			ticket.Success()
			return backoff.Permanent(err)
		default:
			ticket.Failure()
			return err
		}
	}

	err := backoff.RetryNotify(operation, w.newBackOff(ctx), func(err error, next time.Duration) {
		d.Retries++
		w.logger.Debug("Retrying source call",
			logger.Host(host),
			logger.Int("retry", d.Retries),
			logger.Duration("backoff", next),
			logger.Error(err),
		)
	})

	d.Duration = time.Since(start)
	d.Err = err
	d.Class = Classify(err)
	if d.ShortCircuited {
		d.Class = ClassTransient
	}
	w.publish(d)

	return err
}

func (w *Wrapper) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.config.RetryBaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.1
	exp.MaxInterval = w.config.MaxRetryDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(w.config.MaxRetries)), ctx)
}

func (w *Wrapper) publish(d Decision) {
	if d.Err != nil {
		w.logger.Debug("Source call failed",
			logger.Host(d.Host),
			logger.Bool("attempted", d.Attempted),
			logger.Bool("short_circuited", d.ShortCircuited),
			logger.Int("retries", d.Retries),
			logger.String("class", d.Class.String()),
			logger.Error(d.Err),
		)
	}
	for _, o := range w.observers {
		o.ObserveDecision(d)
	}
}

// DoHTTP sends the request built by newRequest under the policy for its
// host. Non-2xx responses become *errors.HTTPError and 2xx responses are
// passed to handle. handle should wrap decode failures with Permanent;
// unwrapped errors, such as a body read reset, are retried.
func (w *Wrapper) DoHTTP(
	ctx context.Context,
	client *http.Client,
	host string,
	newRequest func(ctx context.Context) (*http.Request, error),
	handle func(resp *http.Response) error,
) error {
	return w.Do(ctx, host, func(attemptCtx context.Context) error {
		req, err := newRequest(attemptCtx)
		if err != nil {
			return Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
		}()

		if httpErr := infraerrors.ParseHTTPError(resp); httpErr != nil {
			return httpErr
		}
		return handle(resp)
	})
}

// HostOf returns the host[:port] of rawURL, or rawURL itself when it does
// not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
