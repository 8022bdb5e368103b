package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/autodiag/internal/history"
	"github.com/yairfalse/autodiag/internal/journal"
)

var (
	historyLimit   int
	pruneOlderThan time.Duration
	pruneResults   bool
	showAll        bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past collection runs, newest first",
	Example: `  autodiag history             # Last 20 runs
  autodiag history --limit 0   # Every recorded run`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget runs older than a retention period",
	Example: `  autodiag history prune --older-than 720h                   # Forget runs older than 30 days
  autodiag history prune --older-than 720h --delete-results  # Also remove their result directories`,
	Args: cobra.NoArgs,
	RunE: runHistoryPrune,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and replay its journal",
	Example: `  autodiag history show 3f2c...         # Summary plus failures and truncations
  autodiag history show 3f2c... --all   # Every journal entry`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyShowCmd.Flags().BoolVar(&showAll, "all", false, "Print every journal entry, not only problems")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 = all)")
	historyPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Retention period")
	historyPruneCmd.Flags().BoolVar(&pruneResults, "delete-results", false, "Also delete the result directories of pruned runs")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.List(historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no runs recorded in %s\n", cfg.History.Path)
		return nil
	}

	printHistory(cmd.OutOrStdout(), runs)
	return nil
}

func printHistory(w io.Writer, runs []history.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSOURCE\tSTATUS\tACCOUNTS\tFAILED\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Second),
			r.Source,
			r.Status,
			len(r.Accounts),
			r.Failed(),
			r.OutputDir,
		)
	}
	_ = tw.Flush()
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	if pruneOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	removed, err := store.PruneBefore(time.Now().Add(-pruneOlderThan))
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}

	for _, r := range removed {
		if !pruneResults || r.OutputDir == "" {
			continue
		}
		if err := os.RemoveAll(r.OutputDir); err != nil {
			log.Warn().Err(err).Str("run", r.ID).Str("dir", r.OutputDir).Msg("remove result directory failed")
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", len(removed))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Get(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printRunSummary(out, rec)
	return showJournal(out, filepath.Join(rec.OutputDir, journal.FileName), showAll)
}

// showJournal replays a run journal, printing problem entries (or every
// entry when all is set) followed by the per-type counts.
func showJournal(w io.Writer, path string, all bool) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(w, "\nno journal at %s\n", path)
		return nil
	}

	counts := make(map[journal.EntryType]int)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintln(tw, "SEQ\tTYPE\tACCOUNT\tSCOPE\tITEM\tDETAIL")
	err := journal.Replay(path, func(e *journal.Entry) error {
		counts[e.Type]++
		if !all && !problem(e.Type) {
			return nil
		}
		detail := e.Error
		if detail == "" && e.Count > 0 {
			detail = fmt.Sprintf("count=%d", e.Count)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.Sequence, e.Type, e.Account, e.Scope, e.Item, detail)
		return nil
	})
	_ = tw.Flush()
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}

	printJournalCounts(w, counts)
	return nil
}

func problem(t journal.EntryType) bool {
	return t == journal.EntryFailed || t == journal.EntryTruncated || t == journal.EntrySkipped
}
