package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/autodiag/internal/collector"
	"github.com/yairfalse/autodiag/internal/config"
	"github.com/yairfalse/autodiag/internal/emitter"
	"github.com/yairfalse/autodiag/internal/filter"
	"github.com/yairfalse/autodiag/internal/history"
	"github.com/yairfalse/autodiag/internal/journal"
	"github.com/yairfalse/autodiag/internal/source"
	_ "github.com/yairfalse/autodiag/internal/source/azure"
	_ "github.com/yairfalse/autodiag/internal/source/snapshot"
	"github.com/yairfalse/autodiag/internal/telemetry"
)

type collectFlags struct {
	source         string
	snapshot       string
	subscription   string
	accounts       []string
	runbooks       []string
	jobIDs         []string
	includeAll     bool
	jobs           int
	output         string
	timeout        time.Duration
	metricsAddr    string
	accountWorkers int
	streamWorkers  int
	noHistory      bool
}

var collectOpts collectFlags

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect diagnostics from automation accounts",
	Long: `Collect assets, runbooks, jobs and job streams from every automation
account in a subscription, or from the accounts named with --account.

Jobs are chosen by --job ids if given, else the newest --jobs jobs of the
runbooks named with --runbook, else the newest --jobs jobs of the account.

Full stream values are fetched for Error records only, unless
--include-all-stream-values is set. That costs one remote call per record,
so narrow the run with --runbook or --job first.`,
	Example: `  autodiag collect --subscription $SUB                          # All accounts, last 20 jobs
  autodiag collect --subscription $SUB --account ops --jobs 50  # One account, last 50 jobs
  autodiag collect --subscription $SUB --runbook Patch-Servers  # Jobs of one runbook
  autodiag collect --subscription $SUB --job 3f2a... --include-all-stream-values
  autodiag collect --source snapshot --snapshot capture.yaml    # Offline replay`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	addCollectFlags(collectCmd, &collectOpts)
}

func addCollectFlags(cmd *cobra.Command, o *collectFlags) {
	f := cmd.Flags()
	f.StringVar(&o.source, "source", "", "Source backend (azure, snapshot)")
	f.StringVar(&o.snapshot, "snapshot", "", "Snapshot file for the snapshot source")
	f.StringVar(&o.subscription, "subscription", "", "Azure subscription id")
	f.StringSliceVar(&o.accounts, "account", nil, "Automation account name (repeatable)")
	f.StringSliceVar(&o.runbooks, "runbook", nil, "Runbook name (repeatable)")
	f.StringSliceVar(&o.jobIDs, "job", nil, "Job id (repeatable); overrides --runbook and --jobs")
	f.BoolVar(&o.includeAll, "include-all-stream-values", false, "Fetch the full value of every stream record")
	f.IntVar(&o.jobs, "jobs", filter.DefaultJobWindow, "Number of most recent jobs to collect")
	f.StringVarP(&o.output, "output", "o", "", "Result directory")
	f.DurationVar(&o.timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.IntVar(&o.accountWorkers, "account-workers", 0, "Accounts collected in parallel")
	f.IntVar(&o.streamWorkers, "stream-workers", 0, "Jobs whose streams are read in parallel per account")
	f.BoolVar(&o.noHistory, "no-history", false, "Do not record the run in the history database")
}

// applyCollectFlags overrides configuration with flags set on the command line.
func applyCollectFlags(cmd *cobra.Command, c *config.Config, o collectFlags) {
	changed := cmd.Flags().Changed

	if changed("source") {
		c.Azure.Source = o.source
	}
	if changed("snapshot") {
		c.Azure.Snapshot = o.snapshot
		if !changed("source") {
			c.Azure.Source = config.SourceSnapshot
		}
	}
	if changed("subscription") {
		c.Azure.SubscriptionID = o.subscription
	}
	if changed("account") {
		c.Collect.Accounts = o.accounts
	}
	if changed("runbook") {
		c.Collect.Runbooks = o.runbooks
	}
	if changed("job") {
		c.Collect.JobIDs = o.jobIDs
	}
	if changed("include-all-stream-values") {
		c.Collect.IncludeAllStreamValues = o.includeAll
	}
	if changed("jobs") {
		c.Collect.JobWindow = o.jobs
	}
	if changed("output") {
		c.Collect.OutputDir = o.output
		if configPath == "" {
			c.History.Path = filepath.Join(o.output, "history.db")
		}
	}
	if changed("timeout") {
		c.Collect.Timeout = o.timeout
	}
	if changed("metrics-addr") {
		c.Metrics.Addr = o.metricsAddr
	}
	if changed("account-workers") {
		c.Collect.AccountConcurrency = o.accountWorkers
	}
	if changed("stream-workers") {
		c.Collect.StreamConcurrency = o.streamWorkers
	}
	if changed("no-history") {
		c.History.Disabled = o.noHistory
	}
}

func runCollect(cmd *cobra.Command, _ []string) error {
	applyCollectFlags(cmd, cfg, collectOpts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	filters, err := filter.New(cfg.FilterOptions())
	if err != nil {
		return err
	}
	if filters.IncludeAllStreamValues() && !filters.HasRunbooks() && !filters.HasJobIDs() {
		log.Warn().Msg("fetching every stream value without --runbook or --job filters; this makes one remote call per stream record")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var readers []sdkmetric.Reader
	if cfg.Metrics.Addr != "" {
		promExporter, err := otelprom.New()
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		readers = append(readers, promExporter)
	}

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL, readers...)
	if err != nil {
		return fmt.Errorf("create telemetry provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	runID := uuid.NewString()
	runDir := filepath.Join(cfg.Collect.OutputDir, runID)
	started := time.Now().UTC()

	logger := log.With().Str("run", runID).Logger()
	logger.Info().
		Str("source", cfg.Azure.Source).
		Str("output", runDir).
		Int("job_window", filters.JobWindow()).
		Msg("autodiag starting")

	var store *history.Store
	if !cfg.History.Disabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		recordHistory(store, newRunRecord(runID, cfg, runDir, started, nil, statusRunning))
	}

	src, err := source.Open(ctx, cfg.Azure.Source, source.Config{
		SubscriptionID: cfg.Azure.SubscriptionID,
		SnapshotPath:   cfg.Azure.Snapshot,
	})
	if err != nil {
		recordHistory(store, newRunRecord(runID, cfg, runDir, started, nil, statusFailed))
		return fmt.Errorf("open %s source: %w", cfg.Azure.Source, err)
	}
	instrumented, err := source.NewInstrumented(src, provider.Meter(), provider.Tracer())
	if err != nil {
		return fmt.Errorf("instrument source: %w", err)
	}

	files, err := emitter.NewFileEmitter(runDir, cfg.OutputFormats()...)
	if err != nil {
		return err
	}
	metricsEmitter, err := emitter.NewMetricsEmitterWithMeter(provider.Meter())
	if err != nil {
		return err
	}
	sink := emitter.NewMultiEmitter(files, metricsEmitter)
	defer func() { _ = sink.Close() }()

	jrnl, err := journal.Open(runDir)
	if err != nil {
		return err
	}
	defer func() { _ = jrnl.Close() }()

	collectorMetrics, err := collector.NewMetricsWithMeter(provider.Meter())
	if err != nil {
		return err
	}
	c, err := collector.New(collector.Config{
		Source:             instrumented,
		Emitter:            sink,
		Filters:            filters,
		Journal:            jrnl,
		Metrics:            collectorMetrics,
		AccountConcurrency: cfg.Collect.AccountConcurrency,
		AssetConcurrency:   cfg.Collect.AssetConcurrency,
		StreamConcurrency:  cfg.Collect.StreamConcurrency,
	})
	if err != nil {
		return err
	}

	collectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Collect.Timeout > 0 {
		collectCtx, cancel = context.WithTimeout(collectCtx, cfg.Collect.Timeout)
		defer cancel()
	}

	var (
		result collector.RunResult
		runErr error
	)

	var g run.Group
	{
		execute, interrupt := run.SignalHandler(collectCtx, os.Interrupt, syscall.SIGTERM)
		g.Add(execute, interrupt)
	}
	{
		g.Add(func() error {
			result, runErr = c.Run(collectCtx)
			return runErr
		}, func(error) {
			cancel()
		})
	}
	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr)
		g.Add(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	groupErr := g.Run()
	var sigErr run.SignalError
	if errors.As(groupErr, &sigErr) {
		logger.Warn().Str("signal", sigErr.Signal.String()).Msg("interrupted")
	} else if groupErr != nil && runErr == nil {
		runErr = groupErr
	}

	status := runStatus(result, runErr)
	provider.RecordRun(ctx, src.Name(), status, time.Since(started))
	provider.RecordAccounts(ctx, src.Name(), len(result.Accounts), result.Failed())

	manifest := newManifest(runID, cfg, filters, started, result, runErr, status)
	if counts, err := journal.Counts(jrnl.Path()); err != nil {
		logger.Warn().Err(err).Msg("read run journal failed")
	} else {
		manifest.Journal = counts
	}
	if err := files.WriteJSON(manifestFile, manifest); err != nil {
		logger.Error().Err(err).Msg("write run manifest failed")
	}

	rec := newRunRecord(runID, cfg, runDir, started, &result, status)
	recordHistory(store, rec)

	printRunSummary(cmd.OutOrStdout(), rec)
	printJournalCounts(cmd.OutOrStdout(), manifest.Journal)

	switch {
	case runErr != nil:
		return runErr
	case result.Failed() > 0:
		return fmt.Errorf("%d of %d accounts collected with errors, see %s", result.Failed(), len(result.Accounts), jrnl.Path())
	}
	logger.Info().Dur("duration", time.Since(started)).Msg("collection complete")
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", handleReadyz)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(source.Names()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no sources registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func recordHistory(store *history.Store, rec history.RunRecord) {
	if store == nil {
		return
	}
	if err := store.Record(rec); err != nil {
		log.Warn().Err(err).Str("run", rec.ID).Msg("record run history failed")
	}
}
