package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// mockCache is a mock implementation of TokenCache for testing.
type mockCache[T any] struct {
	getValue   T
	getFound   bool
	invRemoved bool
	swept      int
	stats      Stats
	getCalls   int
	setCalls   int
	invCalls   int
	sweepCalls int
}

func (m *mockCache[T]) Get(ctx context.Context, key string) (T, bool) {
	m.getCalls++
	return m.getValue, m.getFound
}

func (m *mockCache[T]) Set(ctx context.Context, key string, value T) {
	m.setCalls++
}

func (m *mockCache[T]) Invalidate(ctx context.Context, key string) bool {
	m.invCalls++
	return m.invRemoved
}

func (m *mockCache[T]) Sweep(ctx context.Context) int {
	m.sweepCalls++
	return m.swept
}

func (m *mockCache[T]) Stats() Stats {
	return m.stats
}

func TestInstrumented_Get_Hit(t *testing.T) {
	mock := &mockCache[string]{
		getValue: "test-payload",
		getFound: true,
	}

	instrumented := NewInstrumented(mock, "test")
	ctx := context.Background()

	value, found := instrumented.Get(ctx, "test-key")

	assert.True(t, found)
	assert.Equal(t, "test-payload", value)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_Get_Miss(t *testing.T) {
	mock := &mockCache[string]{}

	instrumented := NewInstrumented(mock, "test")
	ctx := context.Background()

	value, found := instrumented.Get(ctx, "test-key")

	assert.False(t, found)
	assert.Equal(t, "", value)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_Set(t *testing.T) {
	mock := &mockCache[string]{}

	instrumented := NewInstrumented(mock, "test")

	instrumented.Set(context.Background(), "test-key", "test-value")

	assert.Equal(t, 1, mock.setCalls)
}

func TestInstrumented_Invalidate(t *testing.T) {
	tests := []struct {
		name    string
		removed bool
	}{
		{name: "present", removed: true},
		{name: "absent", removed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockCache[string]{invRemoved: tt.removed}
			instrumented := NewInstrumented(mock, "test")

			removed := instrumented.Invalidate(context.Background(), "test-key")

			assert.Equal(t, tt.removed, removed)
			assert.Equal(t, 1, mock.invCalls)
		})
	}
}

func TestInstrumented_Sweep(t *testing.T) {
	mock := &mockCache[string]{swept: 3}

	instrumented := NewInstrumented(mock, "test")

	removed := instrumented.Sweep(context.Background())

	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, mock.sweepCalls)
}

func TestInstrumented_StatsPassThrough(t *testing.T) {
	mock := &mockCache[string]{stats: Stats{Size: 2, Hits: 5, Misses: 5, HitRate: 0.5}}

	instrumented := NewInstrumented(mock, "test")

	assert.Equal(t, mock.stats, instrumented.Stats())
}

func TestInstrumented_CacheType(t *testing.T) {
	tests := []struct {
		name      string
		cacheType string
	}{
		{
			name:      "access token cache type",
			cacheType: "access_token",
		},
		{
			name:      "other cache type",
			cacheType: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockCache[string]{}
			instrumented := NewInstrumented(mock, tt.cacheType)

			assert.Equal(t, tt.cacheType, instrumented.cacheType)
		})
	}
}

// tracedContext creates a context with an active span backed by a SpanRecorder,
// returning the context and a function to retrieve the finished span's attributes.
func tracedContext(t *testing.T) (context.Context, func() []attribute.KeyValue) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(t.Context(), t.Name())

	return ctx, func() []attribute.KeyValue {
		span.End()
		spans := recorder.Ended()
		require.Len(t, spans, 1, "expected exactly one recorded span")
		return spans[0].Attributes()
	}
}

func spanAttribute(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInstrumented_SpanAttributes(t *testing.T) {
	tests := []struct {
		name           string
		mock           *mockCache[string]
		operation      func(ctx context.Context, c *Instrumented[string])
		key            string
		expectedStatus string
	}{
		{
			name:           "get hit",
			mock:           &mockCache[string]{getFound: true},
			operation:      func(ctx context.Context, c *Instrumented[string]) { c.Get(ctx, "k") },
			key:            "cache.get.status",
			expectedStatus: "hit",
		},
		{
			name:           "get miss",
			mock:           &mockCache[string]{},
			operation:      func(ctx context.Context, c *Instrumented[string]) { c.Get(ctx, "k") },
			key:            "cache.get.status",
			expectedStatus: "miss",
		},
		{
			name:           "invalidate absent",
			mock:           &mockCache[string]{},
			operation:      func(ctx context.Context, c *Instrumented[string]) { c.Invalidate(ctx, "k") },
			key:            "cache.invalidate.status",
			expectedStatus: "absent",
		},
		{
			name:           "sweep",
			mock:           &mockCache[string]{swept: 2},
			operation:      func(ctx context.Context, c *Instrumented[string]) { c.Sweep(ctx) },
			key:            "cache.sweep.status",
			expectedStatus: "success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, attributes := tracedContext(t)

			tt.operation(ctx, NewInstrumented(tt.mock, "access_token"))

			attrs := attributes()

			status, ok := spanAttribute(attrs, tt.key)
			require.True(t, ok, "expected %s attribute", tt.key)
			assert.Equal(t, tt.expectedStatus, status.AsString())

			cacheType, ok := spanAttribute(attrs, "cache.type")
			require.True(t, ok)
			assert.Equal(t, "access_token", cacheType.AsString())
		})
	}
}
