package collector

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autodiag/internal/journal"
	"github.com/yairfalse/autodiag/pkg/automation"
)

// ShouldFetchValue reports whether a record's full value is materialized.
func ShouldFetchValue(t automation.StreamType, includeAll bool) bool {
	return includeAll || t == automation.StreamError
}

// MaterializeStreams returns the stream records of job in ascending record
// id order. Values are fetched for error records, or for every record when
// all stream values are requested. A value failure is kept on its record
// and the remaining records are still processed.
func (c *Collector) MaterializeStreams(ctx context.Context, acct automation.Account, job automation.Job) ([]automation.JobStreamRecord, error) {
	ctx, span := c.tracer.Start(ctx, "collector.streams",
		trace.WithAttributes(
			attribute.String("account", acct.Key()),
			attribute.String("job.id", job.ID),
		),
	)
	defer span.End()

	streams, err := c.src.ListJobStreams(ctx, acct, job.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list job streams failed")
		return nil, fmt.Errorf("list streams of job %q in %s: %w", job.ID, acct.Key(), err)
	}
	automation.SortStreams(streams)

	includeAll := c.filters.IncludeAllStreamValues()
	records := make([]automation.JobStreamRecord, 0, len(streams))
	fetched, failed := 0, 0

	for _, s := range streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec := automation.NewJobStreamRecord(job, s)
		if ShouldFetchValue(s.Type, includeAll) {
			value, err := c.src.GetStreamValue(ctx, acct, job.ID, s.ID)
			c.metrics.RecordStreamValue(ctx, acct.Key(), err)
			if err != nil {
				failed++
				err = fmt.Errorf("get stream %q of job %q in %s: %w", s.ID, job.ID, acct.Key(), err)
				rec = rec.WithValueError(err)
				c.metrics.RecordFailure(ctx, acct.Key(), "stream_value")
				c.record(journal.Failure(acct.Key(), "stream_value", job.ID+"/"+s.ID, err))
				c.logger.Warn().Ctx(ctx).Err(err).
					Str("account", acct.Key()).
					Str("job", job.ID).
					Str("record", s.ID).
					Msg("stream value fetch failed")
			} else {
				fetched++
				rec = rec.WithValue(value)
			}
		}
		records = append(records, rec)
	}

	span.SetAttributes(
		attribute.Int("stream.count", len(records)),
		attribute.Int("stream.values_fetched", fetched),
		attribute.Int("stream.values_failed", failed),
	)
	return records, nil
}
