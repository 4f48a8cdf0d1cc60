package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/north-cloud/partprice/infrastructure/errors"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
)

type recorder struct {
	mu        sync.Mutex
	decisions []resilience.Decision
}

func (r *recorder) ObserveDecision(d resilience.Decision) {
	r.mu.Lock()
	r.decisions = append(r.decisions, d)
	r.mu.Unlock()
}

func (r *recorder) last() resilience.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[len(r.decisions)-1]
}

func newWrapper(t *testing.T, cfg resilience.Config) (*resilience.Wrapper, *recorder) {
	t.Helper()
	rec := &recorder{}
	return resilience.New(cfg, logger.NewNop(), resilience.WithObserver(rec)), rec
}

func fastConfig() resilience.Config {
	return resilience.Config{
		Timeout:          200 * time.Millisecond,
		MaxRetries:       2,
		RetryBaseDelay:   time.Millisecond,
		MaxRetryDelay:    5 * time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         time.Hour,
	}
}

var errReset = errors.New("connection reset by peer")

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	w, rec := newWrapper(t, fastConfig())
	var calls int

	err := w.Do(context.Background(), "api.example.com", func(context.Context) error {
		calls++
		if calls < 3 {
			return errReset
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	d := rec.last()
	assert.True(t, d.Attempted)
	assert.False(t, d.ShortCircuited)
	assert.Equal(t, 2, d.Retries)
	assert.Equal(t, resilience.ClassNone, d.Class)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.FailureThreshold = 100
	w, rec := newWrapper(t, cfg)
	var calls int

	err := w.Do(context.Background(), "api.example.com", func(context.Context) error {
		calls++
		return errReset
	})

	require.ErrorIs(t, err, errReset)
	assert.Equal(t, 3, calls, "one attempt plus two retries")
	assert.Equal(t, resilience.ClassTransient, rec.last().Class)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	t.Parallel()

	w, rec := newWrapper(t, fastConfig())
	tests := []struct {
		name string
		err  error
	}{
		{"not found", &infraerrors.HTTPError{StatusCode: http.StatusNotFound, Status: "404 Not Found"}},
		{"unauthorized", &infraerrors.HTTPError{StatusCode: http.StatusUnauthorized, Status: "401 Unauthorized"}},
		{"parse failure", resilience.Permanent(errors.New("unexpected token"))},
	}

	for _, tt := range tests {
		var calls int
		err := w.Do(context.Background(), "shop.example.com", func(context.Context) error {
			calls++
			return tt.err
		})

		require.Error(t, err, tt.name)
		assert.Equal(t, 1, calls, tt.name)
		assert.Equal(t, resilience.ClassPermanent, rec.last().Class, tt.name)
	}

	assert.Equal(t, circuitbreaker.StateClosed, w.Breakers().Get("shop.example.com").State(),
		"permanent failures must not open the circuit")
}

func TestDo_RetriesServerErrorsAnd408(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable} {
		w, _ := newWrapper(t, fastConfig())
		var calls int
		err := w.Do(context.Background(), "api.example.com", func(context.Context) error {
			calls++
			if calls == 1 {
				return &infraerrors.HTTPError{StatusCode: status}
			}
			return nil
		})
		require.NoError(t, err, status)
		assert.Equal(t, 2, calls, status)
	}
}

func TestDo_AttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.FailureThreshold = 100
	w, rec := newWrapper(t, cfg)

	var calls atomic.Int32
	err := w.Do(context.Background(), "slow.example.com", func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, err, resilience.ErrAttemptTimeout)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, rec.last().Retries)
}

func TestDo_CircuitOpensAndShortCircuits(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxRetries = 0
	w, rec := newWrapper(t, cfg)
	var calls int
	fail := func(context.Context) error { calls++; return errReset }

	for range 3 {
		require.ErrorIs(t, w.Do(context.Background(), "down.example.com", fail), errReset)
	}

	for range 5 {
		err := w.Do(context.Background(), "down.example.com", fail)
		require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
		d := rec.last()
		assert.False(t, d.Attempted)
		assert.True(t, d.ShortCircuited)
	}
	assert.Equal(t, 3, calls, "short-circuited calls must not reach the network")

	// other hosts are unaffected
	require.NoError(t, w.Do(context.Background(), "up.example.com", func(context.Context) error { return nil }))
}

func TestDo_ParentCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryBaseDelay = time.Second
	cfg.MaxRetryDelay = time.Second
	w, _ := newWrapper(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := w.Do(ctx, "api.example.com", func(context.Context) error {
		calls++
		return errReset
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDoHTTP_ClassifiesResponses(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		switch {
		case r.URL.Path == "/missing":
			http.Error(w, `{"error":"no such item"}`, http.StatusNotFound)
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = fmt.Fprint(w, "ok")
		}
	}))
	defer srv.Close()

	w, _ := newWrapper(t, fastConfig())
	host := resilience.HostOf(srv.URL)

	var body string
	err := w.DoHTTP(context.Background(), srv.Client(), host,
		func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/items", http.NoBody)
		},
		func(resp *http.Response) error {
			b := make([]byte, 2)
			_, _ = resp.Body.Read(b)
			body = string(b)
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, int32(2), hits.Load())

	err = w.DoHTTP(context.Background(), srv.Client(), host,
		func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/missing", http.NoBody)
		},
		func(*http.Response) error { return nil },
	)
	code, ok := infraerrors.GetHTTPStatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, int32(3), hits.Load(), "404 must not be retried")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, resilience.ClassNone, resilience.Classify(nil))
	assert.Equal(t, resilience.ClassTransient, resilience.Classify(errReset))
	assert.Equal(t, resilience.ClassPermanent, resilience.Classify(context.Canceled))
	assert.Equal(t, resilience.ClassPermanent,
		resilience.Classify(fmt.Errorf("wrap: %w", resilience.Permanent(errors.New("bad json")))))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "api.example.com:8443", resilience.HostOf("https://api.example.com:8443/v1/search?q=x"))
	assert.Equal(t, "not a url", resilience.HostOf("not a url"))
}
