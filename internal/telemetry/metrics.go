// Package telemetry wires OpenTelemetry tracing and metrics for roster-sync.
package telemetry

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the meter used for job metrics
const SyncMetricsMeterName = "github.com/stacklok/roster-sync/sync"

// Job outcomes recorded on the run duration histogram
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

// SyncMetrics holds the instruments recorded by job runs. A nil *SyncMetrics
// records nothing.
type SyncMetrics struct {
	runDuration    metric.Float64Histogram
	itemsProcessed metric.Int64Counter
	itemsFailed    metric.Int64Counter
	actions        metric.Int64Counter
	workItems      metric.Int64Gauge
}

// NewSyncMetrics creates the job instruments. A nil provider yields nil metrics.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"roster_sync_run_duration_seconds",
		metric.WithDescription("Duration of job invocations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 240, 300, 360),
	)
	if err != nil {
		return nil, err
	}

	itemsProcessed, err := meter.Int64Counter(
		"roster_sync_items_processed_total",
		metric.WithDescription("Work items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	itemsFailed, err := meter.Int64Counter(
		"roster_sync_items_failed_total",
		metric.WithDescription("Work items that failed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	actions, err := meter.Int64Counter(
		"roster_sync_actions_total",
		metric.WithDescription("Directory actions by kind"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	workItems, err := meter.Int64Gauge(
		"roster_sync_work_items",
		metric.WithDescription("Length of the job's work list at the last invocation"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		runDuration:    runDuration,
		itemsProcessed: itemsProcessed,
		itemsFailed:    itemsFailed,
		actions:        actions,
		workItems:      workItems,
	}, nil
}

// RecordRun records the duration and outcome of one invocation
func (m *SyncMetrics) RecordRun(ctx context.Context, job, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	))
}

// RecordItems adds the processed and failed item counts of one invocation
func (m *SyncMetrics) RecordItems(ctx context.Context, job string, processed, failed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job", job))
	m.itemsProcessed.Add(ctx, int64(processed), attrs)
	if failed > 0 {
		m.itemsFailed.Add(ctx, int64(failed), attrs)
	}
}

// RecordActions adds per-action counts; zero counts are skipped
func (m *SyncMetrics) RecordActions(ctx context.Context, job string, counts map[string]int) {
	if m == nil {
		return
	}
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		if counts[action] == 0 {
			continue
		}
		m.actions.Add(ctx, int64(counts[action]), metric.WithAttributes(
			attribute.String("job", job),
			attribute.String("action", action),
		))
	}
}

// RecordWorkItems records the work list length of a job
func (m *SyncMetrics) RecordWorkItems(ctx context.Context, job string, total int) {
	if m == nil {
		return
	}
	m.workItems.Record(ctx, int64(total), metric.WithAttributes(attribute.String("job", job)))
}
