package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yairfalse/autodiag/internal/collector"
	"github.com/yairfalse/autodiag/internal/config"
	"github.com/yairfalse/autodiag/internal/filter"
	"github.com/yairfalse/autodiag/internal/history"
	"github.com/yairfalse/autodiag/internal/journal"
)

const manifestFile = "run.json"

// Run statuses.
const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusPartial   = "partial"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
)

// manifest is written to run.json at the root of each run directory.
type manifest struct {
	RunID      string                    `json:"run_id"`
	Version    string                    `json:"version"`
	Source     string                    `json:"source"`
	Status     string                    `json:"status"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Filters    filter.Options            `json:"filters"`
	Accounts   []collector.AccountResult `json:"accounts"`
	Journal    map[journal.EntryType]int `json:"journal,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

func newManifest(runID string, c *config.Config, f filter.Filters, started time.Time, res collector.RunResult, runErr error, status string) manifest {
	m := manifest{
		RunID:      runID,
		Version:    version,
		Source:     c.Azure.Source,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Filters:    f.Snapshot(),
		Accounts:   res.Accounts,
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}
	return m
}

func runStatus(res collector.RunResult, runErr error) string {
	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		return statusCancelled
	case runErr != nil:
		return statusFailed
	case res.Failed() > 0:
		return statusPartial
	default:
		return statusCompleted
	}
}

func newRunRecord(runID string, c *config.Config, runDir string, started time.Time, res *collector.RunResult, status string) history.RunRecord {
	rec := history.RunRecord{
		ID:        runID,
		Source:    c.Azure.Source,
		StartedAt: started,
		OutputDir: runDir,
		Status:    status,
	}
	if status == statusRunning {
		return rec
	}
	rec.FinishedAt = time.Now().UTC()
	if res == nil {
		return rec
	}
	for _, a := range res.Accounts {
		rec.Accounts = append(rec.Accounts, history.AccountRecord{
			Account:        a.Account.Key(),
			Assets:         a.AssetCount(),
			Runbooks:       a.Runbooks,
			Jobs:           a.Jobs,
			StreamRecords:  a.StreamRecords,
			Errors:         len(a.Errors),
			MayBeTruncated: a.MayBeTruncated,
		})
	}
	return rec
}

func printRunSummary(w io.Writer, rec history.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tASSETS\tRUNBOOKS\tJOBS\tSTREAM RECORDS\tERRORS\tNOTE")
	for _, a := range rec.Accounts {
		note := ""
		if a.MayBeTruncated {
			note = "job window full"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			a.Account, a.Assets, a.Runbooks, a.Jobs, a.StreamRecords, a.Errors, note)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nrun %s %s in %s, results in %s\n",
		rec.ID, rec.Status, rec.Duration().Round(time.Millisecond), rec.OutputDir)
}

// printJournalCounts writes one line of entry counts in a fixed type order.
func printJournalCounts(w io.Writer, counts map[journal.EntryType]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprint(w, "journal:")
	for _, t := range journalTypes {
		if n := counts[t]; n > 0 {
			fmt.Fprintf(w, " %s=%d", t, n)
		}
	}
	fmt.Fprintln(w)
}

var journalTypes = []journal.EntryType{
	journal.EntryCollected,
	journal.EntryEmpty,
	journal.EntryExported,
	journal.EntryTruncated,
	journal.EntrySkipped,
	journal.EntryFailed,
}
