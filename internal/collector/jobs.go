package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/btree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autodiag/internal/filter"
	"github.com/yairfalse/autodiag/pkg/automation"
)

// SelectionMode names which filter decided a job selection.
type SelectionMode string

const (
	// ModeJobIDs takes exactly the listed job ids, ignoring the window.
	ModeJobIDs SelectionMode = "job-ids"
	// ModeRunbooks takes the newest jobs of the listed runbooks.
	ModeRunbooks SelectionMode = "runbooks"
	// ModeRecent takes the newest jobs of the account.
	ModeRecent SelectionMode = "recent"
)

// JobSelection is the outcome of SelectJobs.
type JobSelection struct {
	Mode   SelectionMode
	Jobs   []automation.Job
	Window int

	// MayBeTruncated is set when a windowed selection came back full, so
	// older matching jobs may exist.
	MayBeTruncated bool
}

// SelectJobs picks jobs by job ids, else by runbook names, else the most
// recent window, and re-fetches each. A detail failure aborts selection.
func (c *Collector) SelectJobs(ctx context.Context, acct automation.Account) (JobSelection, error) {
	ctx, span := c.tracer.Start(ctx, "collector.jobs",
		trace.WithAttributes(attribute.String("account", acct.Key())),
	)
	defer span.End()

	summaries, err := c.src.ListJobs(ctx, acct)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list jobs failed")
		return JobSelection{}, fmt.Errorf("list jobs in %s: %w", acct.Key(), err)
	}

	mode, picked := SelectJobSummaries(summaries, c.filters)
	sel := JobSelection{
		Mode:   mode,
		Jobs:   make([]automation.Job, 0, len(picked)),
		Window: c.filters.JobWindow(),
	}

	for _, s := range picked {
		if err := ctx.Err(); err != nil {
			return JobSelection{}, err
		}
		job, err := c.src.GetJob(ctx, acct, s.ID)
		if err != nil {
			err = fmt.Errorf("get job %q in %s: %w", s.ID, acct.Key(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "get job failed")
			return JobSelection{}, err
		}
		sel.Jobs = append(sel.Jobs, job)
	}

	sel.MayBeTruncated = mode != ModeJobIDs && len(sel.Jobs) == sel.Window
	span.SetAttributes(
		attribute.String("job.mode", string(mode)),
		attribute.Int("job.count", len(sel.Jobs)),
		attribute.Bool("job.may_be_truncated", sel.MayBeTruncated),
	)
	return sel, nil
}

// SelectJobSummaries applies the job filters to a listing. Job ids win over
// runbook names, which win over the plain recency window. Job-id selections
// are ordered by id; windowed selections are newest first.
func SelectJobSummaries(summaries []automation.JobSummary, f filter.Filters) (SelectionMode, []automation.JobSummary) {
	if f.HasJobIDs() {
		var out []automation.JobSummary
		for _, s := range summaries {
			if f.MatchesJobID(s.ID) {
				out = append(out, s)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].ID < out[j].ID
		})
		return ModeJobIDs, out
	}

	mode := ModeRecent
	keep := func(automation.JobSummary) bool { return true }
	if f.HasRunbooks() {
		mode = ModeRunbooks
		keep = func(s automation.JobSummary) bool { return f.MatchesRunbook(s.RunbookName) }
	}

	return mode, recent(summaries, f.JobWindow(), keep)
}

// recent returns the n newest summaries accepted by keep, newest first.
// Equal creation times are ordered by job id.
func recent(summaries []automation.JobSummary, n int, keep func(automation.JobSummary) bool) []automation.JobSummary {
	index := btree.NewG[automation.JobSummary](32, func(a, b automation.JobSummary) bool {
		if !a.CreationTime.Equal(b.CreationTime) {
			return a.CreationTime.Before(b.CreationTime)
		}
		return a.ID < b.ID
	})
	for _, s := range summaries {
		if keep(s) {
			index.ReplaceOrInsert(s)
		}
	}

	out := make([]automation.JobSummary, 0, min(n, index.Len()))
	index.Descend(func(s automation.JobSummary) bool {
		out = append(out, s)
		return len(out) < n
	})
	return out
}
