// Package telemetry implements Admin & Telemetry: operation counters and
// latency percentiles, cache hit ratio, connection pool stats, and the
// static usage-guidance document surfaced through get_usage_guidance.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

// reservoirSize bounds how many recent durations per operation are kept
// for percentile estimation; older samples are evicted FIFO.
const reservoirSize = 512

type operationStats struct {
	mu          sync.Mutex
	durationsMs []float64
	successes   int64
	failures    int64
}

func (o *operationStats) record(d time.Duration, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ok {
		o.successes++
	} else {
		o.failures++
	}

	o.durationsMs = append(o.durationsMs, float64(d.Microseconds())/1000.0)
	if len(o.durationsMs) > reservoirSize {
		o.durationsMs = o.durationsMs[len(o.durationsMs)-reservoirSize:]
	}
}

func (o *operationStats) percentile(p float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.durationsMs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), o.durationsMs...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// OperationSnapshot is a point-in-time read of one operation's counters.
type OperationSnapshot struct {
	Operation    string  `json:"operation"`
	SuccessCount int64   `json:"success_count"`
	ErrorCount   int64   `json:"error_count"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
}

// CacheHitRatioSource is satisfied by identity.Service.
type CacheHitRatioSource interface {
	CacheHitRatio() float64
}

// Collector records per-operation latency/outcome and exposes them
// alongside cache and connection-pool stats for get_performance_metrics.
type Collector struct {
	meter   metric.Meter
	counter metric.Int64Counter
	latency metric.Float64Histogram

	mu  sync.RWMutex
	ops map[string]*operationStats

	engine  *storage.Engine
	idCache CacheHitRatioSource
}

func NewCollector(provider *sdkmetric.MeterProvider, engine *storage.Engine, idCache CacheHitRatioSource) (*Collector, error) {
	meter := provider.Meter("shared-context-server")

	counter, err := meter.Int64Counter("operation_total",
		metric.WithDescription("count of tool operations, by operation and outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("operation_duration_ms",
		metric.WithDescription("tool operation latency in milliseconds"))
	if err != nil {
		return nil, err
	}

	return &Collector{
		meter:   meter,
		counter: counter,
		latency: latency,
		ops:     make(map[string]*operationStats),
		engine:  engine,
		idCache: idCache,
	}, nil
}

// RecordOperation records one completed operation's outcome and duration,
// both into the bounded reservoir used for percentiles and into the otel
// instruments used for external export.
func (c *Collector) RecordOperation(ctx context.Context, operation string, dur time.Duration, ok bool) {
	c.mu.Lock()
	stats, exists := c.ops[operation]
	if !exists {
		stats = &operationStats{}
		c.ops[operation] = stats
	}
	c.mu.Unlock()
	stats.record(dur, ok)

	outcome := "success"
	if !ok {
		outcome = "error"
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	c.latency.Record(ctx, float64(dur.Microseconds())/1000.0, metric.WithAttributes(attribute.String("operation", operation)))
}

// Snapshot returns a stable read of every operation's current counters.
func (c *Collector) Snapshot() []OperationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]OperationSnapshot, 0, len(c.ops))
	for name, stats := range c.ops {
		out = append(out, OperationSnapshot{
			Operation:    name,
			SuccessCount: stats.successes,
			ErrorCount:   stats.failures,
			P50Ms:        stats.percentile(0.50),
			P95Ms:        stats.percentile(0.95),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// PoolStats is a snapshot of the SQLite connection pool's sql.DBStats.
type PoolStats struct {
	OpenConnections int `json:"open_connections"`
	InUse           int `json:"in_use"`
	Idle            int `json:"idle"`
}

func (c *Collector) PoolStats() PoolStats {
	s := c.engine.Stats()
	return PoolStats{OpenConnections: s.OpenConnections, InUse: s.InUse, Idle: s.Idle}
}

func (c *Collector) CacheHitRatio() float64 {
	if c.idCache == nil {
		return 0
	}
	return c.idCache.CacheHitRatio()
}

// PerformanceMetrics is the full payload returned by get_performance_metrics.
type PerformanceMetrics struct {
	Operations    []OperationSnapshot `json:"operations"`
	CacheHitRatio float64             `json:"cache_hit_ratio"`
	Pool          PoolStats           `json:"pool"`
}

func (c *Collector) PerformanceMetrics() PerformanceMetrics {
	return PerformanceMetrics{
		Operations:    c.Snapshot(),
		CacheHitRatio: c.CacheHitRatio(),
		Pool:          c.PoolStats(),
	}
}
