package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stretchr/testify/require"

	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

type fakeCacheSource struct{ ratio float64 }

func (f fakeCacheSource) CacheHitRatio() float64 { return f.ratio }

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	engine, err := storage.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, engine.Migrate(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	provider := sdkmetric.NewMeterProvider()
	c, err := NewCollector(provider, engine, fakeCacheSource{ratio: 0.75})
	require.NoError(t, err)
	return c
}

func TestRecordOperationAccumulatesSnapshot(t *testing.T) {
	c := newTestCollector(t)
	ctx := context.Background()

	c.RecordOperation(ctx, "add_message", 10*time.Millisecond, true)
	c.RecordOperation(ctx, "add_message", 20*time.Millisecond, true)
	c.RecordOperation(ctx, "add_message", 5*time.Millisecond, false)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "add_message", snap[0].Operation)
	require.EqualValues(t, 2, snap[0].SuccessCount)
	require.EqualValues(t, 1, snap[0].ErrorCount)
	require.Greater(t, snap[0].P95Ms, 0.0)
}

func TestPerformanceMetricsIncludesCacheAndPool(t *testing.T) {
	c := newTestCollector(t)
	metrics := c.PerformanceMetrics()
	require.Equal(t, 0.75, metrics.CacheHitRatio)
	require.GreaterOrEqual(t, metrics.Pool.OpenConnections, 0)
}
