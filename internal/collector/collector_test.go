package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/autodiag/internal/filter"
	"github.com/yairfalse/autodiag/internal/source"
	"github.com/yairfalse/autodiag/pkg/automation"
)

func jobIDs(jobs []automation.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func summaryIDs(summaries []automation.JobSummary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	src := newSnapshot(t)
	sink := newMemEmitter()

	_, err := New(Config{Emitter: sink, Filters: mustFilters(t, filter.Options{})})
	assert.Error(t, err)

	_, err = New(Config{Source: src, Filters: mustFilters(t, filter.Options{})})
	assert.Error(t, err)

	// zero-value filters carry no window
	_, err = New(Config{Source: src, Emitter: sink})
	assert.ErrorIs(t, err, filter.ErrInvalidWindow)

	c, err := New(Config{Source: src, Emitter: sink, Filters: mustFilters(t, filter.Options{})})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccountConcurrency, c.accountConcurrency)
	assert.Equal(t, DefaultAssetConcurrency, c.assetConcurrency)
	assert.Equal(t, DefaultStreamConcurrency, c.streamConcurrency)
	assert.Len(t, c.kinds, len(automation.AssetKinds()))
}

func TestCollectAssets_SortedByName(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	assets, err := c.CollectAssets(context.Background(), acct, automation.KindVariable)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "Region", assets[0].Name)
	assert.Equal(t, "Zone", assets[1].Name)
	assert.Equal(t, automation.KindVariable, assets[0].Kind)

	empty, err := c.CollectAssets(context.Background(), acct, automation.KindCertificate)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCollectAssets_DetailFailureAbortsKind(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	src.failOn("get_asset", "A", "Zone")
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	assets, err := c.CollectAssets(context.Background(), acct, automation.KindVariable)
	require.Error(t, err)
	assert.Nil(t, assets)
	assert.Contains(t, err.Error(), `"Zone"`)
	assert.Contains(t, err.Error(), "variable")
	assert.Contains(t, err.Error(), "rg/A")
}

func TestSelectRunbooks_FilterAndOrder(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))
	all, err := c.SelectRunbooks(context.Background(), acct)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "R1", all[0].Name)
	assert.Equal(t, "R2", all[1].Name)

	c = newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{RunbookNames: []string{"R2", "R9"}}))
	some, err := c.SelectRunbooks(context.Background(), acct)
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "R2", some[0].Name)
}

func TestExportRunbooks_SlotsByState(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	sink := newMemEmitter()
	c := newCollector(t, src, sink, mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	runbooks, err := c.SelectRunbooks(context.Background(), acct)
	require.NoError(t, err)

	res := c.ExportRunbooks(context.Background(), acct, runbooks)
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Exported)
	assert.Equal(t, []string{"A/R1/published", "A/R2/draft"}, sink.exports)
	assert.Equal(t, "Write-Output 'published'", sink.content["A/R1/published"])
}

func TestExportRunbooks_FailureContinues(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	src.failOn("export_runbook", "A", "R1")
	sink := newMemEmitter()
	c := newCollector(t, src, sink, mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	runbooks := []automation.Runbook{
		{Name: "R1", State: automation.RunbookPublished},
		{Name: "R2", State: automation.RunbookNew},
	}
	res := c.ExportRunbooks(context.Background(), acct, runbooks)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Exported)
	require.Error(t, res.Err())
	assert.Equal(t, []string{"A/R2/draft"}, sink.exports)
}

func TestSelectJobSummaries_Window(t *testing.T) {
	var summaries []automation.JobSummary
	for i := 1; i <= 7; i++ {
		summaries = append(summaries, automation.JobSummary{ID: fmt.Sprint(i), CreationTime: at(i)})
	}
	// listing order must not matter
	summaries[0], summaries[6] = summaries[6], summaries[0]

	for _, tc := range []struct {
		window int
		want   []string
	}{
		{1, []string{"7"}},
		{3, []string{"7", "6", "5"}},
		{7, []string{"7", "6", "5", "4", "3", "2", "1"}},
		{20, []string{"7", "6", "5", "4", "3", "2", "1"}},
	} {
		t.Run(fmt.Sprint(tc.window), func(t *testing.T) {
			mode, got := SelectJobSummaries(summaries, mustFilters(t, filter.Options{JobWindow: tc.window}))
			assert.Equal(t, ModeRecent, mode)
			assert.Equal(t, tc.want, summaryIDs(got))
		})
	}
}

func TestSelectJobSummaries_EqualTimesBrokenByID(t *testing.T) {
	summaries := []automation.JobSummary{
		{ID: "b", CreationTime: at(5)},
		{ID: "c", CreationTime: at(5)},
		{ID: "a", CreationTime: at(5)},
		{ID: "z", CreationTime: at(1)},
	}
	_, got := SelectJobSummaries(summaries, mustFilters(t, filter.Options{JobWindow: 2}))
	assert.Equal(t, []string{"c", "b"}, summaryIDs(got))
}

func TestSelectJobSummaries_Precedence(t *testing.T) {
	summaries := []automation.JobSummary{
		{ID: "1", RunbookName: "R1", CreationTime: at(1)},
		{ID: "2", RunbookName: "R1", CreationTime: at(2)},
		{ID: "3", RunbookName: "R2", CreationTime: at(3)},
		{ID: "4", RunbookName: "R2", CreationTime: at(4)},
	}

	tests := []struct {
		name string
		opts filter.Options
		mode SelectionMode
		want []string
	}{
		{
			name: "job ids overlap runbooks",
			opts: filter.Options{JobIDs: []string{"3", "1"}, RunbookNames: []string{"R2"}},
			mode: ModeJobIDs,
			want: []string{"1", "3"},
		},
		{
			name: "job ids disjoint from runbooks",
			opts: filter.Options{JobIDs: []string{"2"}, RunbookNames: []string{"R2"}},
			mode: ModeJobIDs,
			want: []string{"2"},
		},
		{
			name: "job ids ignore window",
			opts: filter.Options{JobIDs: []string{"1", "2", "3"}, JobWindow: 1},
			mode: ModeJobIDs,
			want: []string{"1", "2", "3"},
		},
		{
			name: "unknown job id",
			opts: filter.Options{JobIDs: []string{"99"}},
			mode: ModeJobIDs,
			want: []string{},
		},
		{
			name: "runbooks windowed",
			opts: filter.Options{RunbookNames: []string{"R1"}, JobWindow: 1},
			mode: ModeRunbooks,
			want: []string{"2"},
		},
		{
			name: "recent",
			opts: filter.Options{JobWindow: 2},
			mode: ModeRecent,
			want: []string{"4", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, got := SelectJobSummaries(summaries, mustFilters(t, tt.opts))
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.want, summaryIDs(got))
		})
	}
}

func TestSelectJobs_Scenario(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{JobWindow: 2}))
	sel, err := c.SelectJobs(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, ModeRecent, sel.Mode)
	assert.Equal(t, []string{"3", "2"}, jobIDs(sel.Jobs))
	assert.True(t, sel.MayBeTruncated)

	c = newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{
		JobIDs:       []string{"2"},
		RunbookNames: []string{"R2"},
	}))
	sel, err = c.SelectJobs(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, ModeJobIDs, sel.Mode)
	assert.Equal(t, []string{"2"}, jobIDs(sel.Jobs))
	assert.Equal(t, "R1", sel.Jobs[0].RunbookName)
	assert.False(t, sel.MayBeTruncated)
}

func TestSelectJobs_Truncation(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{JobWindow: 5}))
	sel, err := c.SelectJobs(context.Background(), acct)
	require.NoError(t, err)
	assert.Len(t, sel.Jobs, 3)
	assert.False(t, sel.MayBeTruncated)

	c = newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{RunbookNames: []string{"R1"}, JobWindow: 2}))
	sel, err = c.SelectJobs(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, jobIDs(sel.Jobs))
	assert.True(t, sel.MayBeTruncated)

	// job ids are never truncated, even when the count matches the window
	c = newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{JobIDs: []string{"1", "2"}, JobWindow: 2}))
	sel, err = c.SelectJobs(context.Background(), acct)
	require.NoError(t, err)
	assert.Len(t, sel.Jobs, 2)
	assert.False(t, sel.MayBeTruncated)
}

func TestSelectJobs_DetailFailureAborts(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	src.failOn("get_job", "A", "2")
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	_, err := c.SelectJobs(context.Background(), acct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `job "2"`)
}

func TestShouldFetchValue(t *testing.T) {
	for _, st := range []automation.StreamType{
		automation.StreamProgress, automation.StreamOutput, automation.StreamWarning,
		automation.StreamError, automation.StreamDebug, automation.StreamVerbose,
	} {
		assert.Equal(t, st == automation.StreamError, ShouldFetchValue(st, false), st)
		assert.True(t, ShouldFetchValue(st, true), st)
	}
}

func TestMaterializeStreams_ErrorValuesOnly(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}
	job := automation.Job{ID: "2", RunbookName: "R1", Status: "Failed"}

	records, err := c.MaterializeStreams(context.Background(), acct, job)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2-9", records[0].RecordID)
	assert.Equal(t, automation.StreamOutput, records[0].Type)
	assert.False(t, records[0].ValueFetched)
	assert.Empty(t, records[0].Value)

	assert.Equal(t, "2-10", records[1].RecordID)
	assert.True(t, records[1].ValueFetched)
	assert.Equal(t, "boom at line 3", records[1].Value)

	for _, r := range records {
		assert.Equal(t, "2", r.JobID)
		assert.Equal(t, "R1", r.RunbookName)
		assert.Equal(t, "Failed", r.JobStatus)
	}
	assert.Equal(t, 1, src.count("get_stream_value"))
}

func TestMaterializeStreams_IncludeAll(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{IncludeAllStreamValues: true}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	records, err := c.MaterializeStreams(context.Background(), acct, automation.Job{ID: "2"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "starting up", records[0].Value)
	assert.Equal(t, "boom at line 3", records[1].Value)
	for _, r := range records {
		assert.True(t, r.ValueFetched)
	}
}

func TestMaterializeStreams_ValueFailureIsolated(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	src.failOn("get_stream_value", "A", "2-9")
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{IncludeAllStreamValues: true}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	records, err := c.MaterializeStreams(context.Background(), acct, automation.Job{ID: "2"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.False(t, records[0].ValueFetched)
	assert.Empty(t, records[0].Value)
	assert.Contains(t, records[0].ValueError, "injected")
	assert.Contains(t, records[0].ValueError, `"2-9"`)

	assert.True(t, records[1].ValueFetched)
	assert.Equal(t, "boom at line 3", records[1].Value)
	assert.Empty(t, records[1].ValueError)
}

func TestMaterializeStreams_ListFailure(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	src.failOn("list_job_streams", "A", "2")
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))
	acct := automation.Account{SubscriptionID: "sub", ResourceGroup: "rg", Name: "A"}

	_, err := c.MaterializeStreams(context.Background(), acct, automation.Job{ID: "2"})
	require.Error(t, err)
}

func TestRun_Scenario(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"))
	sink := newMemEmitter()
	c := newCollector(t, src, sink, mustFilters(t, filter.Options{JobWindow: 2}))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)

	acct := res.Accounts[0]
	assert.NoError(t, acct.Err())
	assert.Equal(t, 2, acct.Assets[automation.KindVariable])
	assert.Equal(t, 1, acct.Assets[automation.KindModule])
	assert.Equal(t, 3, acct.AssetCount())
	assert.Equal(t, 2, acct.Runbooks)
	assert.Equal(t, 2, acct.Exported)
	assert.Equal(t, ModeRecent, acct.JobMode)
	assert.Equal(t, 2, acct.Jobs)
	assert.Equal(t, 3, acct.StreamRecords)
	assert.True(t, acct.MayBeTruncated)
	assert.Equal(t, 0, res.Failed())

	assert.Equal(t, []string{"A"}, column(sink.table(t, "", "accounts"), "Name"))
	assert.Equal(t, []string{"Region", "Zone"}, column(sink.table(t, "A", "variables"), "Name"))
	assert.Equal(t, []string{"R1", "R2"}, column(sink.table(t, "A", "runbooks"), "Name"))
	assert.Equal(t, []string{"3", "2"}, column(sink.table(t, "A", "jobs"), "JobId"))
	assert.Equal(t, []string{"A/R1/published", "A/R2/draft"}, sink.exports)

	streams := sink.table(t, "A", StreamsTable)
	assert.Equal(t, []string{"3", "2", "2"}, column(streams, "JobId"))
	assert.Equal(t, []string{"3-1", "2-9", "2-10"}, column(streams, "StreamRecordId"))
	assert.Equal(t, []string{"", "", "boom at line 3"}, column(streams, "Value"))

	perJob := sink.table(t, "A", "job_streams/2")
	assert.Equal(t, []string{"2-9", "2-10"}, column(perJob, "StreamRecordId"))

	// certificates were listed and found empty
	assert.Equal(t, 0, sink.table(t, "A", "certificates").Len())
}

func TestRun_Idempotent(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"), scenarioAccount("B"))
	f := mustFilters(t, filter.Options{})

	first := newMemEmitter()
	_, err := newCollector(t, src, first, f).Run(context.Background())
	require.NoError(t, err)

	second := newMemEmitter()
	_, err = newCollector(t, src, second, f).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.tables, second.tables)
	assert.ElementsMatch(t, first.exports, second.exports)
}

func TestRun_AccountIsolation(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A"), scenarioAccount("B"), scenarioAccount("C")))
	src.failOn("get_asset", "A", "Region")
	src.failOn("list_job_streams", "B", "3")
	sink := newMemEmitter()
	c := newCollector(t, src, sink, mustFilters(t, filter.Options{}))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 3)
	assert.Equal(t, "A", res.Accounts[0].Account.Name)
	assert.Equal(t, "B", res.Accounts[1].Account.Name)
	assert.Equal(t, "C", res.Accounts[2].Account.Name)

	// A loses its variables but keeps everything else
	a := res.Accounts[0]
	require.Error(t, a.Err())
	assert.Contains(t, a.Err().Error(), `"Region"`)
	assert.False(t, sink.has("A", "variables"))
	assert.True(t, sink.has("A", "modules"))
	assert.Equal(t, 3, a.Jobs)

	// B loses one job's streams
	b := res.Accounts[1]
	require.Error(t, b.Err())
	assert.False(t, sink.has("B", "job_streams/3"))
	assert.True(t, sink.has("B", "job_streams/2"))
	assert.Equal(t, []string{"2", "2", "1"}, column(sink.table(t, "B", StreamsTable), "JobId"))

	assert.NoError(t, res.Accounts[2].Err())
	assert.True(t, sink.has("C", "variables"))
	assert.Equal(t, 2, res.Failed())
}

func TestRun_ValueFailureKeepsErrorChain(t *testing.T) {
	src := newFaulty(newSnapshot(t, scenarioAccount("A")))
	src.fail["get_stream_value:A/2-10"] = fmt.Errorf("record 2-10: %w", source.ErrNotFound)
	c := newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{}))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)

	a := res.Accounts[0]
	assert.Equal(t, 1, a.ValueFailures)
	require.Error(t, a.Err())
	assert.True(t, errors.Is(a.Err(), source.ErrNotFound))
}

func TestRun_AccountFilter(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("B"), scenarioAccount("A"))
	sink := newMemEmitter()

	c := newCollector(t, src, sink, mustFilters(t, filter.Options{AccountNames: []string{"B"}}))
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	assert.Equal(t, "B", res.Accounts[0].Account.Name)
	assert.False(t, sink.has("A", "jobs"))

	c = newCollector(t, src, newMemEmitter(), mustFilters(t, filter.Options{AccountNames: []string{"nope"}}))
	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestRun_OrderIndependentOfConcurrency(t *testing.T) {
	accounts := []string{"E", "D", "C", "B", "A"}

	src := newSnapshot(t,
		scenarioAccount(accounts[0]), scenarioAccount(accounts[1]), scenarioAccount(accounts[2]),
		scenarioAccount(accounts[3]), scenarioAccount(accounts[4]),
	)
	f := mustFilters(t, filter.Options{IncludeAllStreamValues: true})

	serial := newMemEmitter()
	c := newCollector(t, src, serial, f)
	c.accountConcurrency, c.assetConcurrency, c.streamConcurrency = 1, 1, 1
	serialRes, err := c.Run(context.Background())
	require.NoError(t, err)

	parallel := newMemEmitter()
	c = newCollector(t, src, parallel, f)
	c.accountConcurrency, c.assetConcurrency, c.streamConcurrency = 5, 7, 3
	parallelRes, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, serial.tables, parallel.tables)
	for i := range serialRes.Accounts {
		assert.Equal(t, serialRes.Accounts[i].Account, parallelRes.Accounts[i].Account)
	}
	assert.Equal(t, "A", parallelRes.Accounts[0].Account.Name)
}

func TestRun_Cancelled(t *testing.T) {
	src := newSnapshot(t, scenarioAccount("A"), scenarioAccount("B"))
	sink := newMemEmitter()
	c := newCollector(t, src, sink, mustFilters(t, filter.Options{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, sink.has("A", "jobs"))
}

// cancelAfterList cancels the run once accounts have been resolved.
type cancelAfterList struct {
	*faultySource
	cancel context.CancelFunc
}

func (c cancelAfterList) ListAccounts(ctx context.Context) ([]automation.Account, error) {
	accounts, err := c.faultySource.ListAccounts(ctx)
	c.cancel()
	return accounts, err
}

func TestRun_CancelledAfterResolve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := cancelAfterList{faultySource: newFaulty(newSnapshot(t, scenarioAccount("A"), scenarioAccount("B"))), cancel: cancel}
	sink := newMemEmitter()
	c := newCollector(t, src, sink, mustFilters(t, filter.Options{}))

	res, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Accounts, 2)
	for _, a := range res.Accounts {
		assert.Error(t, a.Err())
	}
	assert.True(t, sink.has("", "accounts"))
	assert.False(t, sink.has("A", "jobs"))
	assert.Equal(t, 0, src.count("get_job"))
}
