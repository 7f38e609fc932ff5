package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestSyncMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewSyncMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRun(ctx, "members", OutcomePartial, 90*time.Second)
	metrics.RecordItems(ctx, "members", 37, 2)
	metrics.RecordItems(ctx, "members", 10, 0)
	metrics.RecordActions(ctx, "members", map[string]int{"added": 3, "removed": 1, "noop": 0})
	metrics.RecordWorkItems(ctx, "members", 100)

	got := collect(t, reader)
	job := attribute.String("job", "members")

	assert.Equal(t, int64(47), sumFor(t, got["roster_sync_items_processed_total"], job))
	assert.Equal(t, int64(2), sumFor(t, got["roster_sync_items_failed_total"], job))
	assert.Equal(t, int64(3), sumFor(t, got["roster_sync_actions_total"], job, attribute.String("action", "added")))
	assert.Equal(t, int64(1), sumFor(t, got["roster_sync_actions_total"], job, attribute.String("action", "removed")))
	assert.Equal(t, int64(0), sumFor(t, got["roster_sync_actions_total"], job, attribute.String("action", "noop")))

	hist, ok := got["roster_sync_run_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 90.0, hist.DataPoints[0].Sum, 0.001)
	outcome, _ := hist.DataPoints[0].Attributes.Value("outcome")
	assert.Equal(t, OutcomePartial, outcome.AsString())

	gauge, ok := got["roster_sync_work_items"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(100), gauge.DataPoints[0].Value)
}

func TestSyncMetrics_Nil(t *testing.T) {
	t.Parallel()

	metrics, err := NewSyncMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		metrics.RecordRun(ctx, "groups", OutcomeComplete, time.Second)
		metrics.RecordItems(ctx, "groups", 1, 1)
		metrics.RecordActions(ctx, "groups", map[string]int{"added": 1})
		metrics.RecordWorkItems(ctx, "groups", 1)
	})
}
