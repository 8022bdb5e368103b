package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autodiag/internal/journal"
	"github.com/yairfalse/autodiag/pkg/automation"
)

// ExportResult summarises one export batch.
type ExportResult struct {
	Exported int
	Failed   int
	Errors   []error
}

// Err joins every export failure.
func (r ExportResult) Err() error {
	return errors.Join(r.Errors...)
}

// SelectRunbooks returns the runbooks of acct retained by the runbook-name
// filter, re-fetched and sorted by name. A detail failure aborts selection.
func (c *Collector) SelectRunbooks(ctx context.Context, acct automation.Account) ([]automation.Runbook, error) {
	ctx, span := c.tracer.Start(ctx, "collector.runbooks",
		trace.WithAttributes(attribute.String("account", acct.Key())),
	)
	defer span.End()

	summaries, err := c.src.ListRunbooks(ctx, acct)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list runbooks failed")
		return nil, fmt.Errorf("list runbooks in %s: %w", acct.Key(), err)
	}

	runbooks := make([]automation.Runbook, 0, len(summaries))
	for _, s := range summaries {
		if !c.filters.ShouldIncludeRunbook(s.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rb, err := c.src.GetRunbook(ctx, acct, s.Name)
		if err != nil {
			err = fmt.Errorf("get runbook %q in %s: %w", s.Name, acct.Key(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "get runbook failed")
			return nil, err
		}
		runbooks = append(runbooks, rb)
	}

	sort.SliceStable(runbooks, func(i, j int) bool {
		return runbooks[i].Name < runbooks[j].Name
	})
	span.SetAttributes(attribute.Int("runbook.count", len(runbooks)))
	return runbooks, nil
}

// ExportRunbooks writes every slot each runbook's state calls for. Each
// export is independent: failures are logged and the batch continues.
func (c *Collector) ExportRunbooks(ctx context.Context, acct automation.Account, runbooks []automation.Runbook) ExportResult {
	var res ExportResult

	for _, rb := range runbooks {
		for _, slot := range automation.ExportSlots(rb.State) {
			if err := ctx.Err(); err != nil {
				res.Errors = append(res.Errors, err)
				return res
			}

			item := rb.Name + "/" + string(slot)
			if err := c.exportRunbook(ctx, acct, rb, slot); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, err)
				c.metrics.RecordFailure(ctx, acct.Key(), "runbook_export")
				c.record(journal.Failure(acct.Key(), "runbook_export", item, err))
				c.logger.Warn().Ctx(ctx).Err(err).
					Str("account", acct.Key()).
					Str("runbook", rb.Name).
					Str("slot", string(slot)).
					Msg("runbook export failed")
				continue
			}

			res.Exported++
			c.record(journal.Entry{Type: journal.EntryExported, Account: acct.Key(), Scope: "runbook_export", Item: item})
		}
	}
	return res
}

func (c *Collector) exportRunbook(ctx context.Context, acct automation.Account, rb automation.Runbook, slot automation.ExportSlot) error {
	content, err := c.src.ExportRunbook(ctx, acct, rb.Name, slot)
	if err != nil {
		return fmt.Errorf("export runbook %q (%s) in %s: %w", rb.Name, slot, acct.Key(), err)
	}

	export := automation.RunbookExport{
		Name:    rb.Name,
		Type:    rb.Type,
		Slot:    slot,
		Content: content,
	}
	if err := c.sink.Export(ctx, acct, export); err != nil {
		return fmt.Errorf("write runbook %q (%s) in %s: %w", rb.Name, slot, acct.Key(), err)
	}
	return nil
}
