package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
	cacheSwept      metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/sessiongate/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheSwept, err = meter.Int64Counter(
			"cache.swept",
			metric.WithDescription("Expired entries removed by sweeps"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a TokenCache with metrics instrumentation.
type Instrumented[T any] struct {
	wrapped   TokenCache[T]
	cacheType string
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented[T any](cache TokenCache[T], cacheType string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

// Get retrieves a payload from the cache.
func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool) {
	start := time.Now()

	value, found := i.wrapped.Get(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "get", duration)

	status := "miss"
	if found {
		status = "hit"
	}
	i.recordOperation(ctx, "get", status)
	i.setSpanAttributes(ctx, "get", status, duration)

	return value, found
}

// Set stores a payload in the cache.
func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) {
	start := time.Now()

	i.wrapped.Set(ctx, key, value)

	duration := time.Since(start)
	i.recordDuration(ctx, "set", duration)
	i.recordOperation(ctx, "set", "success")
	i.setSpanAttributes(ctx, "set", "success", duration)
}

// Invalidate removes a payload from the cache.
func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) bool {
	start := time.Now()

	removed := i.wrapped.Invalidate(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "invalidate", duration)

	status := "absent"
	if removed {
		status = "success"
	}
	i.recordOperation(ctx, "invalidate", status)
	i.setSpanAttributes(ctx, "invalidate", status, duration)

	return removed
}

// Sweep removes expired entries from the wrapped cache.
func (i *Instrumented[T]) Sweep(ctx context.Context) int {
	start := time.Now()

	removed := i.wrapped.Sweep(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "sweep", duration)
	i.recordOperation(ctx, "sweep", "success")
	i.setSpanAttributes(ctx, "sweep", "success", duration)

	if cacheSwept != nil {
		cacheSwept.Add(ctx, int64(removed),
			metric.WithAttributes(attribute.String("cache.type", i.cacheType)),
		)
	}

	return removed
}

// Stats returns the wrapped cache's counters.
func (i *Instrumented[T]) Stats() Stats {
	return i.wrapped.Stats()
}

func (i *Instrumented[T]) recordOperation(ctx context.Context, operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented[T]) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented[T]) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
