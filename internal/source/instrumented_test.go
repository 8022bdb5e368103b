package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/autodiag/pkg/automation"
)

type jobsSource struct {
	namedSource
	err error
}

func (s jobsSource) ListJobs(context.Context, automation.Account) ([]automation.JobSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []automation.JobSummary{{ID: "1"}}, nil
}

func callCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "autodiag.source.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				counts[status.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestInstrumented_CountsCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	ok, err := NewInstrumented(jobsSource{namedSource: namedSource{name: "fake"}}, meter, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	failing, err := NewInstrumented(jobsSource{namedSource: namedSource{name: "fake"}, err: errors.New("boom")}, meter, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	jobs, err := ok.ListJobs(context.Background(), automation.Account{Name: "A"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = failing.ListJobs(context.Background(), automation.Account{Name: "A"})
	require.Error(t, err)

	assert.Equal(t, "fake", ok.Name())
	counts := callCounts(t, reader)
	assert.Equal(t, int64(1), counts["success"])
	assert.Equal(t, int64(1), counts["error"])
}
