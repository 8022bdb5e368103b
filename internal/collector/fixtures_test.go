package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/autodiag/internal/filter"
	"github.com/yairfalse/autodiag/internal/source"
	"github.com/yairfalse/autodiag/internal/source/snapshot"
	"github.com/yairfalse/autodiag/pkg/automation"
)

func at(sec int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, sec, 0, time.UTC)
}

// scenarioAccount is account A with runbooks R1 (Published) and R2 (New)
// and three jobs created at t=1,2,3.
func scenarioAccount(name string) snapshot.AccountEntry {
	return snapshot.AccountEntry{
		Account: automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: name},
		Assets: map[automation.AssetKind][]automation.Asset{
			automation.KindVariable: {
				{Name: "Zone", Fields: map[string]string{"Value": "b"}},
				{Name: "Region", Fields: map[string]string{"Value": "westeurope"}},
			},
			automation.KindModule: {
				{Name: "Az.Accounts", Fields: map[string]string{"Version": "2.0"}},
			},
		},
		Runbooks: []snapshot.RunbookEntry{
			{
				Runbook:   automation.Runbook{Name: "R2", State: automation.RunbookNew, Type: automation.RunbookPowerShell},
				Draft:     "Write-Output 'draft'",
				Published: "",
			},
			{
				Runbook:   automation.Runbook{Name: "R1", State: automation.RunbookPublished, Type: automation.RunbookPowerShell},
				Published: "Write-Output 'published'",
			},
		},
		Jobs: []snapshot.JobEntry{
			{
				Job: automation.Job{ID: "1", RunbookName: "R1", Status: "Completed", CreationTime: at(1)},
				Streams: []snapshot.StreamEntry{
					{StreamSummary: automation.StreamSummary{ID: "1-10", Type: automation.StreamOutput, Summary: "done"}, Value: "done in full"},
				},
			},
			{
				Job: automation.Job{ID: "2", RunbookName: "R1", Status: "Failed", CreationTime: at(2)},
				Streams: []snapshot.StreamEntry{
					{StreamSummary: automation.StreamSummary{ID: "2-10", Type: automation.StreamError, Summary: "boom"}, Value: "boom at line 3"},
					{StreamSummary: automation.StreamSummary{ID: "2-9", Type: automation.StreamOutput, Summary: "starting"}, Value: "starting up"},
				},
			},
			{
				Job: automation.Job{ID: "3", RunbookName: "R2", Status: "Completed", CreationTime: at(3)},
				Streams: []snapshot.StreamEntry{
					{StreamSummary: automation.StreamSummary{ID: "3-1", Type: automation.StreamVerbose, Summary: "verbose"}, Value: "verbose detail"},
				},
			},
		},
	}
}

func newSnapshot(t *testing.T, accounts ...snapshot.AccountEntry) *snapshot.Source {
	t.Helper()
	src, err := snapshot.New(snapshot.File{Accounts: accounts})
	require.NoError(t, err)
	return src
}

// faultySource fails selected calls. Keys are "op:account/item".
type faultySource struct {
	source.Source

	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFaulty(src source.Source) *faultySource {
	return &faultySource{Source: src, fail: map[string]error{}, calls: map[string]int{}}
}

func (f *faultySource) failOn(op string, acct, item string) {
	f.fail[op+":"+acct+"/"+item] = fmt.Errorf("injected %s failure", op)
}

func (f *faultySource) check(op string, acct automation.Account, item string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.fail[op+":"+acct.Name+"/"+item]
}

func (f *faultySource) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultySource) ListAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.AssetSummary, error) {
	if err := f.check("list_assets", acct, string(kind)); err != nil {
		return nil, err
	}
	return f.Source.ListAssets(ctx, acct, kind)
}

func (f *faultySource) GetAsset(ctx context.Context, acct automation.Account, kind automation.AssetKind, name string) (automation.Asset, error) {
	if err := f.check("get_asset", acct, name); err != nil {
		return automation.Asset{}, err
	}
	return f.Source.GetAsset(ctx, acct, kind, name)
}

func (f *faultySource) GetRunbook(ctx context.Context, acct automation.Account, name string) (automation.Runbook, error) {
	if err := f.check("get_runbook", acct, name); err != nil {
		return automation.Runbook{}, err
	}
	return f.Source.GetRunbook(ctx, acct, name)
}

func (f *faultySource) ExportRunbook(ctx context.Context, acct automation.Account, name string, slot automation.ExportSlot) ([]byte, error) {
	if err := f.check("export_runbook", acct, name); err != nil {
		return nil, err
	}
	return f.Source.ExportRunbook(ctx, acct, name, slot)
}

func (f *faultySource) GetJob(ctx context.Context, acct automation.Account, id string) (automation.Job, error) {
	if err := f.check("get_job", acct, id); err != nil {
		return automation.Job{}, err
	}
	return f.Source.GetJob(ctx, acct, id)
}

func (f *faultySource) ListJobStreams(ctx context.Context, acct automation.Account, jobID string) ([]automation.StreamSummary, error) {
	if err := f.check("list_job_streams", acct, jobID); err != nil {
		return nil, err
	}
	return f.Source.ListJobStreams(ctx, acct, jobID)
}

func (f *faultySource) GetStreamValue(ctx context.Context, acct automation.Account, jobID, recordID string) (string, error) {
	if err := f.check("get_stream_value", acct, recordID); err != nil {
		return "", err
	}
	return f.Source.GetStreamValue(ctx, acct, jobID, recordID)
}

// memEmitter keeps everything it is given.
type memEmitter struct {
	mu      sync.Mutex
	tables  map[string]automation.Table
	order   []string
	exports []string
	content map[string]string
}

func newMemEmitter() *memEmitter {
	return &memEmitter{tables: map[string]automation.Table{}, content: map[string]string{}}
}

func (m *memEmitter) Emit(_ context.Context, acct automation.Account, table automation.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := acct.Name + "/" + table.Name
	m.tables[key] = table
	m.order = append(m.order, key)
	return nil
}

func (m *memEmitter) Export(_ context.Context, acct automation.Account, export automation.RunbookExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := acct.Name + "/" + export.Name + "/" + string(export.Slot)
	m.exports = append(m.exports, key)
	m.content[key] = string(export.Content)
	return nil
}

func (m *memEmitter) Close() error { return nil }

func (m *memEmitter) table(t *testing.T, account, name string) automation.Table {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[account+"/"+name]
	require.True(t, ok, "table %s/%s not emitted", account, name)
	return table
}

func (m *memEmitter) has(account, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[account+"/"+name]
	return ok
}

func mustFilters(t *testing.T, opts filter.Options) filter.Filters {
	t.Helper()
	f, err := filter.New(opts)
	require.NoError(t, err)
	return f
}

func newCollector(t *testing.T, src source.Source, sink *memEmitter, f filter.Filters) *Collector {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	c, err := New(Config{Source: src, Emitter: sink, Filters: f, Metrics: metrics})
	require.NoError(t, err)
	return c
}

func column(table automation.Table, name string) []string {
	idx := -1
	for i, c := range table.Columns {
		if c == name {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		out = append(out, row[idx])
	}
	return out
}
