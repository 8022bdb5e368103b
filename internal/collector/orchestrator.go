package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/autodiag/internal/journal"
	"github.com/yairfalse/autodiag/pkg/automation"
)

// Table names for job stream output.
const (
	StreamsTable      = "job_streams"
	jobStreamsDirName = "job_streams"
)

// AccountResult is the outcome of collecting one account.
type AccountResult struct {
	Account        automation.Account           `json:"account"`
	Assets         map[automation.AssetKind]int `json:"assets"`
	Runbooks       int                          `json:"runbooks"`
	Exported       int                          `json:"exported"`
	ExportFailures int                          `json:"export_failures"`
	JobMode        SelectionMode                `json:"job_mode,omitempty"`
	Jobs           int                          `json:"jobs"`
	StreamRecords  int                          `json:"stream_records"`
	ValueFailures  int                          `json:"value_failures"`
	MayBeTruncated bool                         `json:"may_be_truncated"`
	Errors         []string                     `json:"errors,omitempty"`
	Duration       time.Duration                `json:"duration"`

	errs []error
}

// AssetCount totals collected assets across kinds.
func (r AccountResult) AssetCount() int {
	n := 0
	for _, c := range r.Assets {
		n += c
	}
	return n
}

// Err joins every failure recorded for the account.
func (r AccountResult) Err() error {
	return errors.Join(r.errs...)
}

func (r *AccountResult) fail(err error) {
	r.errs = append(r.errs, err)
	r.Errors = append(r.Errors, err.Error())
}

// RunResult is the outcome of a collection run, one entry per account in
// account name order.
type RunResult struct {
	Accounts   []AccountResult `json:"accounts"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Failed counts accounts that recorded at least one error.
func (r RunResult) Failed() int {
	n := 0
	for _, a := range r.Accounts {
		if len(a.errs) > 0 {
			n++
		}
	}
	return n
}

// ResolveAccounts lists accounts retained by the account filter, sorted by
// name. Zero accounts is ErrNoAccounts.
func (c *Collector) ResolveAccounts(ctx context.Context) ([]automation.Account, error) {
	all, err := c.src.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list automation accounts: %w", err)
	}

	var accounts []automation.Account
	for _, a := range all {
		if c.filters.ShouldIncludeAccount(a.Name) {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].Name != accounts[j].Name {
			return accounts[i].Name < accounts[j].Name
		}
		return accounts[i].ResourceGroup < accounts[j].ResourceGroup
	})
	return accounts, nil
}

// Run collects every resolved account on a bounded pool. A failing account
// never stops the others; its errors are kept on its AccountResult. The
// returned error is set only when nothing could be collected or ctx ended.
func (c *Collector) Run(ctx context.Context) (RunResult, error) {
	ctx, span := c.tracer.Start(ctx, "collector.run",
		trace.WithAttributes(attribute.String("source", c.src.Name())),
	)
	defer span.End()

	res := RunResult{StartedAt: time.Now().UTC()}

	accounts, err := c.ResolveAccounts(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve accounts failed")
		return res, err
	}

	c.logger.Info().Ctx(ctx).
		Int("count", len(accounts)).
		Int("job_window", c.filters.JobWindow()).
		Bool("include_all_stream_values", c.filters.IncludeAllStreamValues()).
		Msg("collecting accounts")

	if err := c.sink.Emit(ctx, automation.Account{}, automation.AccountsTable(accounts)); err != nil {
		c.logger.Error().Ctx(ctx).Err(err).Msg("emit accounts table failed")
	}

	res.Accounts = make([]AccountResult, len(accounts))
	var g errgroup.Group
	g.SetLimit(c.accountConcurrency)

	for i, acct := range accounts {
		if ctx.Err() != nil {
			res.Accounts[i] = skipped(acct, ctx.Err())
			c.record(journal.Entry{Type: journal.EntrySkipped, Account: acct.Key(), Scope: "account", Error: ctx.Err().Error()})
			continue
		}
		g.Go(func() error {
			res.Accounts[i] = c.collectAccount(ctx, acct)
			return nil
		})
	}
	_ = g.Wait()

	res.FinishedAt = time.Now().UTC()
	span.SetAttributes(
		attribute.Int("account.count", len(accounts)),
		attribute.Int("account.failed", res.Failed()),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "collection interrupted")
		return res, fmt.Errorf("collection interrupted: %w", err)
	}
	return res, nil
}

func skipped(acct automation.Account, err error) AccountResult {
	r := AccountResult{Account: acct}
	r.fail(fmt.Errorf("skip account %s: %w", acct.Key(), err))
	return r
}

func (c *Collector) collectAccount(ctx context.Context, acct automation.Account) AccountResult {
	ctx, span := c.tracer.Start(ctx, "collector.account",
		trace.WithAttributes(attribute.String("account", acct.Key())),
	)
	defer span.End()

	start := time.Now()
	res := AccountResult{Account: acct, Assets: make(map[automation.AssetKind]int)}
	logger := c.logger.With().Str("account", acct.Key()).Logger()

	if ctx.Err() != nil {
		return skipped(acct, ctx.Err())
	}

	c.collectAccountAssets(ctx, acct, &res)
	c.collectAccountRunbooks(ctx, acct, &res)
	c.collectAccountJobs(ctx, acct, &res)

	res.Duration = time.Since(start)
	failed := len(res.errs) > 0
	c.metrics.RecordAccountDuration(ctx, acct.Key(), res.Duration, failed)

	if failed {
		span.SetStatus(codes.Error, "account collected with errors")
		logger.Warn().Ctx(ctx).
			Int("errors", len(res.errs)).
			Dur("duration", res.Duration).
			Msg("account collected with errors")
	} else {
		logger.Info().Ctx(ctx).
			Int("assets", res.AssetCount()).
			Int("runbooks", res.Runbooks).
			Int("jobs", res.Jobs).
			Int("stream_records", res.StreamRecords).
			Dur("duration", res.Duration).
			Msg("account collected")
	}
	return res
}

func (c *Collector) collectAccountAssets(ctx context.Context, acct automation.Account, res *AccountResult) {
	assets := make([][]automation.Asset, len(c.kinds))
	errs := make([]error, len(c.kinds))

	var g errgroup.Group
	g.SetLimit(c.assetConcurrency)
	for i, kind := range c.kinds {
		g.Go(func() error {
			assets[i], errs[i] = c.CollectAssets(ctx, acct, kind)
			return nil
		})
	}
	_ = g.Wait()

	for i, kind := range c.kinds {
		scope := string(kind)
		if errs[i] != nil {
			c.failStage(ctx, acct, res, "assets", scope, errs[i])
			continue
		}
		res.Assets[kind] = len(assets[i])
		c.emit(ctx, acct, res, scope, automation.AssetTable(kind, assets[i]))
	}
}

func (c *Collector) collectAccountRunbooks(ctx context.Context, acct automation.Account, res *AccountResult) {
	runbooks, err := c.SelectRunbooks(ctx, acct)
	if err != nil {
		c.failStage(ctx, acct, res, "runbooks", "runbook", err)
		return
	}
	res.Runbooks = len(runbooks)
	c.emit(ctx, acct, res, "runbook", automation.RunbookTable(runbooks))

	exports := c.ExportRunbooks(ctx, acct, runbooks)
	res.Exported = exports.Exported
	res.ExportFailures = exports.Failed
	for _, err := range exports.Errors {
		res.fail(err)
	}
}

func (c *Collector) collectAccountJobs(ctx context.Context, acct automation.Account, res *AccountResult) {
	sel, err := c.SelectJobs(ctx, acct)
	if err != nil {
		c.failStage(ctx, acct, res, "jobs", "job", err)
		return
	}
	res.JobMode = sel.Mode
	res.Jobs = len(sel.Jobs)
	res.MayBeTruncated = sel.MayBeTruncated
	c.emit(ctx, acct, res, "job", automation.JobTable(sel.Jobs))

	if sel.MayBeTruncated {
		c.metrics.RecordTruncation(ctx, acct.Key(), sel.Mode)
		c.record(journal.Entry{Type: journal.EntryTruncated, Account: acct.Key(), Scope: "job", Count: sel.Window})
		c.logger.Warn().Ctx(ctx).
			Str("account", acct.Key()).
			Str("mode", string(sel.Mode)).
			Int("window", sel.Window).
			Msg("job window is full, older jobs may exist")
	}

	records := make([][]automation.JobStreamRecord, len(sel.Jobs))
	errs := make([]error, len(sel.Jobs))

	var g errgroup.Group
	g.SetLimit(c.streamConcurrency)
	for i, job := range sel.Jobs {
		if ctx.Err() != nil {
			errs[i] = fmt.Errorf("skip streams of job %q in %s: %w", job.ID, acct.Key(), ctx.Err())
			continue
		}
		g.Go(func() error {
			records[i], errs[i] = c.MaterializeStreams(ctx, acct, job)
			return nil
		})
	}
	_ = g.Wait()

	var all []automation.JobStreamRecord
	for i, job := range sel.Jobs {
		if errs[i] != nil {
			c.failStage(ctx, acct, res, "streams", "job_stream", errs[i])
			continue
		}
		for _, r := range records[i] {
			if err := r.ValueErr(); err != nil {
				res.ValueFailures++
				res.fail(err)
			}
		}
		res.StreamRecords += len(records[i])
		all = append(all, records[i]...)

		name := jobStreamsDirName + "/" + automation.SafeName(job.ID)
		c.emit(ctx, acct, res, "job_stream", automation.StreamTable(name, records[i]))
	}
	if len(sel.Jobs) > 0 {
		c.emit(ctx, acct, res, "job_stream", automation.StreamTable(StreamsTable, all))
	}
}

// emit hands a table to the sink and journals the outcome.
func (c *Collector) emit(ctx context.Context, acct automation.Account, res *AccountResult, scope string, table automation.Table) {
	if err := c.sink.Emit(ctx, acct, table); err != nil {
		c.failStage(ctx, acct, res, "emit", table.Name, fmt.Errorf("emit %s for %s: %w", table.Name, acct.Key(), err))
		return
	}

	c.metrics.RecordItems(ctx, acct.Key(), table.Name, table.Len())
	entry := journal.Entry{Type: journal.EntryCollected, Account: acct.Key(), Scope: scope, Item: table.Name, Count: table.Len()}
	if table.Len() == 0 {
		entry.Type = journal.EntryEmpty
	}
	c.record(entry)

	c.logger.Info().Ctx(ctx).
		Str("account", acct.Key()).
		Str("table", table.Name).
		Int("count", table.Len()).
		Msg("collected")
}

func (c *Collector) failStage(ctx context.Context, acct automation.Account, res *AccountResult, stage, scope string, err error) {
	res.fail(err)
	c.metrics.RecordFailure(ctx, acct.Key(), stage)
	c.record(journal.Failure(acct.Key(), scope, "", err))
	c.logger.Error().Ctx(ctx).Err(err).
		Str("account", acct.Key()).
		Str("stage", stage).
		Msg("collection step failed")
}
