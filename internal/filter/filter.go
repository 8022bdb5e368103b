// Package filter holds the process-wide collection filters.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultJobWindow is the number of most recent jobs taken when no job ids are given.
const DefaultJobWindow = 20

// ErrInvalidWindow is returned when the job window is below one.
var ErrInvalidWindow = errors.New("job window must be at least 1")

// Filters scope a collection run. They are resolved once and never change.
type Filters struct {
	accounts map[string]bool
	runbooks map[string]bool
	jobIDs   map[string]bool

	includeAllStreamValues bool
	jobWindow              int
}

// Options are the raw filter inputs, as read from flags or config.
type Options struct {
	AccountNames           []string
	RunbookNames           []string
	JobIDs                 []string
	IncludeAllStreamValues bool
	JobWindow              int
}

// New builds Filters from options. A zero window means DefaultJobWindow.
func New(opts Options) (Filters, error) {
	window := opts.JobWindow
	if window == 0 {
		window = DefaultJobWindow
	}
	if window < 1 {
		return Filters{}, fmt.Errorf("%w (got %d)", ErrInvalidWindow, window)
	}

	return Filters{
		accounts:               toSet(opts.AccountNames),
		runbooks:               toSet(opts.RunbookNames),
		jobIDs:                 toSet(opts.JobIDs),
		includeAllStreamValues: opts.IncludeAllStreamValues,
		jobWindow:              window,
	}, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = true
		}
	}
	return set
}

// HasAccounts returns true if an account-name filter is set.
func (f Filters) HasAccounts() bool { return len(f.accounts) > 0 }

// HasRunbooks returns true if a runbook-name filter is set.
func (f Filters) HasRunbooks() bool { return len(f.runbooks) > 0 }

// HasJobIDs returns true if a job-id filter is set.
func (f Filters) HasJobIDs() bool { return len(f.jobIDs) > 0 }

// ShouldIncludeAccount returns true if the account passes the name filter.
func (f Filters) ShouldIncludeAccount(name string) bool {
	return !f.HasAccounts() || f.accounts[name]
}

// ShouldIncludeRunbook returns true if the runbook passes the name filter.
func (f Filters) ShouldIncludeRunbook(name string) bool {
	return !f.HasRunbooks() || f.runbooks[name]
}

// MatchesRunbook reports exact membership in the runbook-name set.
func (f Filters) MatchesRunbook(name string) bool {
	return f.runbooks[name]
}

// MatchesJobID reports exact membership in the job-id set.
func (f Filters) MatchesJobID(id string) bool {
	return f.jobIDs[id]
}

// IncludeAllStreamValues returns true if every stream record is materialized.
func (f Filters) IncludeAllStreamValues() bool { return f.includeAllStreamValues }

// JobWindow returns the number of most recent jobs to keep.
func (f Filters) JobWindow() int { return f.jobWindow }

// Unscoped returns true if no runbook or job filter narrows the run.
func (f Filters) Unscoped() bool {
	return !f.HasRunbooks() && !f.HasJobIDs()
}

// Snapshot returns the filters as sorted lists for manifests and logs.
func (f Filters) Snapshot() Options {
	return Options{
		AccountNames:           sortedKeys(f.accounts),
		RunbookNames:           sortedKeys(f.runbooks),
		JobIDs:                 sortedKeys(f.jobIDs),
		IncludeAllStreamValues: f.includeAllStreamValues,
		JobWindow:              f.jobWindow,
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
