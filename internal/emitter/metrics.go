package emitter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// MetricsEmitter records what was emitted as OTEL metrics.
type MetricsEmitter struct {
	rowsTotal    metric.Int64Counter
	tablesTotal  metric.Int64Counter
	exportsTotal metric.Int64Counter
	exportBytes  metric.Int64Histogram
}

// NewMetricsEmitter creates a metrics emitter on the global meter provider.
func NewMetricsEmitter() (*MetricsEmitter, error) {
	return NewMetricsEmitterWithMeter(otel.Meter("autodiag"))
}

// NewMetricsEmitterWithMeter creates a metrics emitter on the given meter.
func NewMetricsEmitterWithMeter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{}
	var err error

	e.rowsTotal, err = meter.Int64Counter(
		"autodiag_emitted_rows_total",
		metric.WithDescription("Total rows handed to the sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("create emitted_rows counter: %w", err)
	}

	e.tablesTotal, err = meter.Int64Counter(
		"autodiag_emitted_tables_total",
		metric.WithDescription("Total tables handed to the sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("create emitted_tables counter: %w", err)
	}

	e.exportsTotal, err = meter.Int64Counter(
		"autodiag_runbook_exports_total",
		metric.WithDescription("Total runbook definitions exported"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runbook_exports counter: %w", err)
	}

	e.exportBytes, err = meter.Int64Histogram(
		"autodiag_runbook_export_bytes",
		metric.WithDescription("Size of exported runbook definitions"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runbook_export_bytes histogram: %w", err)
	}

	return e, nil
}

// Emit counts the table and its rows.
func (e *MetricsEmitter) Emit(ctx context.Context, acct automation.Account, table automation.Table) error {
	attrs := metric.WithAttributes(
		attribute.String("account", acct.Name),
		attribute.String("table", tableKind(table.Name)),
	)
	e.tablesTotal.Add(ctx, 1, attrs)
	e.rowsTotal.Add(ctx, int64(table.Len()), attrs)
	return nil
}

// Export counts the export and records its size.
func (e *MetricsEmitter) Export(ctx context.Context, acct automation.Account, export automation.RunbookExport) error {
	attrs := metric.WithAttributes(
		attribute.String("account", acct.Name),
		attribute.String("slot", string(export.Slot)),
	)
	e.exportsTotal.Add(ctx, 1, attrs)
	e.exportBytes.Record(ctx, int64(len(export.Content)), attrs)
	return nil
}

// Close is a no-op.
func (e *MetricsEmitter) Close() error {
	return nil
}

// tableKind drops per-job suffixes so metric cardinality stays bounded.
func tableKind(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i]
		}
	}
	return name
}
