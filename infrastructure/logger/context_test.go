package logger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
)

func TestWithContext_FromContext_RoundTrip(t *testing.T) {
	t.Parallel()

	l := mustTestLogger(t)
	ctx := logger.WithContext(context.Background(), l)

	assert.Same(t, l, logger.FromContext(ctx))
}

func TestFromContext_NoLogger_ReturnsSharedFallback(t *testing.T) {
	t.Parallel()

	a := logger.FromContext(context.Background())
	b := logger.FromContext(context.Background())

	require.NotNil(t, a)
	assert.Same(t, a, b)

	// warn-level fallback must accept every call without panicking
	a.Debug("debug message")
	a.Warn("offer fetch failed", logger.Source("repuestos"), logger.Pair(1, 2))
}

func TestWith_CreatesChildLogger(t *testing.T) {
	t.Parallel()

	base := mustTestLogger(t)
	child := base.With(logger.Source("marketplace"), logger.Host("api.example.com"))

	assert.NotSame(t, base, child)
	child.Info("token refreshed", logger.Price("price", decimal.NewFromInt(25990)))
}

func TestNew_DefaultsApplied(t *testing.T) {
	t.Parallel()

	cfg := logger.Config{}
	cfg.SetDefaults()

	assert.Equal(t, logger.DefaultLevel, cfg.Level)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func mustTestLogger(t *testing.T) logger.Logger {
	t.Helper()

	l, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	return l
}
