package collector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds collection metrics using OTEL semantic conventions
type Metrics struct {
	itemsCollected  metric.Int64Counter
	streamValues    metric.Int64Counter
	failures        metric.Int64Counter
	truncations     metric.Int64Counter
	accountDuration metric.Float64Histogram
}

// NewMetrics creates collection metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("autodiag.collector"))
}

// NewMetricsWithMeter creates collection metrics on the given meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	itemsCollected, err := meter.Int64Counter(
		"autodiag.collector.items",
		metric.WithDescription("Number of items collected per table"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	streamValues, err := meter.Int64Counter(
		"autodiag.collector.stream_values",
		metric.WithDescription("Number of stream record values fetched"),
		metric.WithUnit("{value}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"autodiag.collector.failures",
		metric.WithDescription("Number of collection failures by stage"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	truncations, err := meter.Int64Counter(
		"autodiag.collector.truncations",
		metric.WithDescription("Number of job selections that filled the window"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		return nil, err
	}

	accountDuration, err := meter.Float64Histogram(
		"autodiag.collector.account.duration",
		metric.WithDescription("Duration of per-account collection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		itemsCollected:  itemsCollected,
		streamValues:    streamValues,
		failures:        failures,
		truncations:     truncations,
		accountDuration: accountDuration,
	}, nil
}

// RecordItems records how many rows a table received.
func (m *Metrics) RecordItems(ctx context.Context, account, table string, count int) {
	m.itemsCollected.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("table", table),
		),
	)
}

// RecordStreamValue records a value fetch outcome.
func (m *Metrics) RecordStreamValue(ctx context.Context, account string, err error) {
	m.streamValues.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("status", status(err)),
		),
	)
}

// RecordFailure records a failure at a collection stage.
func (m *Metrics) RecordFailure(ctx context.Context, account, stage string) {
	m.failures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("stage", stage),
		),
	)
}

// RecordTruncation records a job selection that may be truncated.
func (m *Metrics) RecordTruncation(ctx context.Context, account string, mode SelectionMode) {
	m.truncations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("mode", string(mode)),
		),
	)
}

// RecordAccountDuration records how long an account took.
func (m *Metrics) RecordAccountDuration(ctx context.Context, account string, d time.Duration, failed bool) {
	st := "success"
	if failed {
		st = "partial"
	}
	m.accountDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("status", st),
		),
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
