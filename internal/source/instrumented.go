package source

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// Instrumented wraps a Source with a span, a call counter and a latency
// histogram per remote call.
type Instrumented struct {
	next     Source
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstrumented wraps next.
func NewInstrumented(next Source, meter metric.Meter, tracer trace.Tracer) (*Instrumented, error) {
	calls, err := meter.Int64Counter(
		"autodiag.source.calls",
		metric.WithDescription("Number of remote calls to the automation service"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"autodiag.source.call.duration",
		metric.WithDescription("Duration of remote calls to the automation service"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Instrumented{next: next, tracer: tracer, calls: calls, duration: duration}, nil
}

func (s *Instrumented) start(ctx context.Context, op string, acct automation.Account) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "source."+op,
		trace.WithAttributes(
			attribute.String("source", s.next.Name()),
			attribute.String("account", acct.Key()),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	began := time.Now()

	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
		attrs := metric.WithAttributes(
			attribute.String("source", s.next.Name()),
			attribute.String("operation", op),
			attribute.String("status", status),
		)
		s.calls.Add(ctx, 1, attrs)
		s.duration.Record(ctx, time.Since(began).Seconds(), attrs)
		span.End()
	}
}

// Name returns the wrapped backend name.
func (s *Instrumented) Name() string { return s.next.Name() }

func (s *Instrumented) ListAccounts(ctx context.Context) ([]automation.Account, error) {
	ctx, done := s.start(ctx, "list_accounts", automation.Account{})
	out, err := s.next.ListAccounts(ctx)
	done(err)
	return out, err
}

func (s *Instrumented) ListAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.AssetSummary, error) {
	ctx, done := s.start(ctx, "list_assets", acct)
	out, err := s.next.ListAssets(ctx, acct, kind)
	done(err)
	return out, err
}

func (s *Instrumented) GetAsset(ctx context.Context, acct automation.Account, kind automation.AssetKind, name string) (automation.Asset, error) {
	ctx, done := s.start(ctx, "get_asset", acct)
	out, err := s.next.GetAsset(ctx, acct, kind, name)
	done(err)
	return out, err
}

func (s *Instrumented) ListRunbooks(ctx context.Context, acct automation.Account) ([]automation.RunbookSummary, error) {
	ctx, done := s.start(ctx, "list_runbooks", acct)
	out, err := s.next.ListRunbooks(ctx, acct)
	done(err)
	return out, err
}

func (s *Instrumented) GetRunbook(ctx context.Context, acct automation.Account, name string) (automation.Runbook, error) {
	ctx, done := s.start(ctx, "get_runbook", acct)
	out, err := s.next.GetRunbook(ctx, acct, name)
	done(err)
	return out, err
}

func (s *Instrumented) ExportRunbook(ctx context.Context, acct automation.Account, name string, slot automation.ExportSlot) ([]byte, error) {
	ctx, done := s.start(ctx, "export_runbook", acct)
	out, err := s.next.ExportRunbook(ctx, acct, name, slot)
	done(err)
	return out, err
}

func (s *Instrumented) ListJobs(ctx context.Context, acct automation.Account) ([]automation.JobSummary, error) {
	ctx, done := s.start(ctx, "list_jobs", acct)
	out, err := s.next.ListJobs(ctx, acct)
	done(err)
	return out, err
}

func (s *Instrumented) GetJob(ctx context.Context, acct automation.Account, id string) (automation.Job, error) {
	ctx, done := s.start(ctx, "get_job", acct)
	out, err := s.next.GetJob(ctx, acct, id)
	done(err)
	return out, err
}

func (s *Instrumented) ListJobStreams(ctx context.Context, acct automation.Account, jobID string) ([]automation.StreamSummary, error) {
	ctx, done := s.start(ctx, "list_job_streams", acct)
	out, err := s.next.ListJobStreams(ctx, acct, jobID)
	done(err)
	return out, err
}

func (s *Instrumented) GetStreamValue(ctx context.Context, acct automation.Account, jobID, recordID string) (string, error) {
	ctx, done := s.start(ctx, "get_stream_value", acct)
	out, err := s.next.GetStreamValue(ctx, acct, jobID, recordID)
	done(err)
	return out, err
}
