// Package snapshot implements a Source backed by a YAML description of
// automation accounts. It replays captured state offline.
package snapshot

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/autodiag/internal/source"
	"github.com/yairfalse/autodiag/pkg/automation"
)

func init() {
	source.Register("snapshot", func(_ context.Context, cfg source.Config) (source.Source, error) {
		if cfg.SnapshotPath == "" {
			return nil, fmt.Errorf("snapshot source requires a snapshot file")
		}
		return Load(cfg.SnapshotPath)
	})
}

// File is the on-disk snapshot layout.
type File struct {
	Accounts []AccountEntry `yaml:"accounts"`
}

// AccountEntry is one account and everything it owns.
type AccountEntry struct {
	automation.Account `yaml:",inline"`

	Assets   map[automation.AssetKind][]automation.Asset `yaml:"assets,omitempty"`
	Runbooks []RunbookEntry                              `yaml:"runbooks,omitempty"`
	Jobs     []JobEntry                                  `yaml:"jobs,omitempty"`
}

// RunbookEntry is a runbook with its definitions.
type RunbookEntry struct {
	automation.Runbook `yaml:",inline"`

	Published string `yaml:"published,omitempty"`
	Draft     string `yaml:"draft,omitempty"`
}

// JobEntry is a job with its output records.
type JobEntry struct {
	automation.Job `yaml:",inline"`

	Streams []StreamEntry `yaml:"streams,omitempty"`
}

// StreamEntry is a stream record with its full value.
type StreamEntry struct {
	automation.StreamSummary `yaml:",inline"`

	Value string `yaml:"value,omitempty"`
}

// Source serves a loaded snapshot. It is safe for concurrent use; the
// snapshot is never modified after construction.
type Source struct {
	accounts []AccountEntry
	byKey    map[string]*AccountEntry
}

// Load reads and parses a snapshot file.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(data)
}

// Parse decodes snapshot YAML.
func Parse(data []byte) (*Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return New(f)
}

// New builds a Source from an in-memory snapshot.
func New(f File) (*Source, error) {
	s := &Source{
		accounts: f.Accounts,
		byKey:    make(map[string]*AccountEntry, len(f.Accounts)),
	}
	for i := range s.accounts {
		a := &s.accounts[i]
		if a.Name == "" {
			return nil, fmt.Errorf("snapshot account %d: name is required", i)
		}
		if _, dup := s.byKey[a.Key()]; dup {
			return nil, fmt.Errorf("snapshot account %s: duplicate", a.Key())
		}
		s.byKey[a.Key()] = a
	}
	return s, nil
}

// Name returns the backend identifier.
func (s *Source) Name() string {
	return "snapshot"
}

func (s *Source) account(acct automation.Account) (*AccountEntry, error) {
	a, ok := s.byKey[acct.Key()]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", acct.Key(), source.ErrNotFound)
	}
	return a, nil
}

// ListAccounts returns all accounts in file order.
func (s *Source) ListAccounts(ctx context.Context) ([]automation.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]automation.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Account)
	}
	return out, nil
}

// ListAssets returns the names of all assets of a kind.
func (s *Source) ListAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.AssetSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.account(acct)
	if err != nil {
		return nil, err
	}
	assets := a.Assets[kind]
	out := make([]automation.AssetSummary, 0, len(assets))
	for _, asset := range assets {
		out = append(out, automation.AssetSummary{Name: asset.Name})
	}
	return out, nil
}

// GetAsset returns one asset by name.
func (s *Source) GetAsset(ctx context.Context, acct automation.Account, kind automation.AssetKind, name string) (automation.Asset, error) {
	if err := ctx.Err(); err != nil {
		return automation.Asset{}, err
	}
	a, err := s.account(acct)
	if err != nil {
		return automation.Asset{}, err
	}
	for _, asset := range a.Assets[kind] {
		if asset.Name == name {
			asset.Kind = kind
			asset.Fields = copyFields(asset.Fields)
			return asset, nil
		}
	}
	return automation.Asset{}, fmt.Errorf("%s %q: %w", kind, name, source.ErrNotFound)
}

// ListRunbooks returns all runbooks.
func (s *Source) ListRunbooks(ctx context.Context, acct automation.Account) ([]automation.RunbookSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.account(acct)
	if err != nil {
		return nil, err
	}
	out := make([]automation.RunbookSummary, 0, len(a.Runbooks))
	for _, rb := range a.Runbooks {
		out = append(out, automation.RunbookSummary{Name: rb.Name, State: rb.State})
	}
	return out, nil
}

func (s *Source) runbook(acct automation.Account, name string) (*RunbookEntry, error) {
	a, err := s.account(acct)
	if err != nil {
		return nil, err
	}
	for i := range a.Runbooks {
		if a.Runbooks[i].Name == name {
			return &a.Runbooks[i], nil
		}
	}
	return nil, fmt.Errorf("runbook %q: %w", name, source.ErrNotFound)
}

// GetRunbook returns one runbook by name.
func (s *Source) GetRunbook(ctx context.Context, acct automation.Account, name string) (automation.Runbook, error) {
	if err := ctx.Err(); err != nil {
		return automation.Runbook{}, err
	}
	rb, err := s.runbook(acct, name)
	if err != nil {
		return automation.Runbook{}, err
	}
	return rb.Runbook, nil
}

// ExportRunbook returns the definition stored for the slot.
func (s *Source) ExportRunbook(ctx context.Context, acct automation.Account, name string, slot automation.ExportSlot) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rb, err := s.runbook(acct, name)
	if err != nil {
		return nil, err
	}
	switch slot {
	case automation.SlotPublished:
		if rb.State == automation.RunbookNew {
			return nil, fmt.Errorf("runbook %q has no published version: %w", name, source.ErrNotFound)
		}
		return []byte(rb.Published), nil
	case automation.SlotDraft:
		if rb.State == automation.RunbookPublished {
			return nil, fmt.Errorf("runbook %q has no draft: %w", name, source.ErrNotFound)
		}
		return []byte(rb.Draft), nil
	default:
		return nil, fmt.Errorf("unknown export slot %q", slot)
	}
}

// ListJobs returns all jobs.
func (s *Source) ListJobs(ctx context.Context, acct automation.Account) ([]automation.JobSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.account(acct)
	if err != nil {
		return nil, err
	}
	out := make([]automation.JobSummary, 0, len(a.Jobs))
	for _, j := range a.Jobs {
		out = append(out, automation.JobSummary{
			ID:           j.ID,
			RunbookName:  j.RunbookName,
			Status:       j.Status,
			CreationTime: j.CreationTime,
		})
	}
	return out, nil
}

func (s *Source) job(acct automation.Account, id string) (*JobEntry, error) {
	a, err := s.account(acct)
	if err != nil {
		return nil, err
	}
	for i := range a.Jobs {
		if a.Jobs[i].ID == id {
			return &a.Jobs[i], nil
		}
	}
	return nil, fmt.Errorf("job %q: %w", id, source.ErrNotFound)
}

// GetJob returns one job by id.
func (s *Source) GetJob(ctx context.Context, acct automation.Account, id string) (automation.Job, error) {
	if err := ctx.Err(); err != nil {
		return automation.Job{}, err
	}
	j, err := s.job(acct, id)
	if err != nil {
		return automation.Job{}, err
	}
	job := j.Job
	job.Parameters = copyFields(job.Parameters)
	return job, nil
}

// ListJobStreams returns a job's records in ascending record id order.
func (s *Source) ListJobStreams(ctx context.Context, acct automation.Account, jobID string) ([]automation.StreamSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j, err := s.job(acct, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]automation.StreamSummary, 0, len(j.Streams))
	for _, st := range j.Streams {
		out = append(out, st.StreamSummary)
	}
	automation.SortStreams(out)
	return out, nil
}

// GetStreamValue returns a record's full value, falling back to its summary.
func (s *Source) GetStreamValue(ctx context.Context, acct automation.Account, jobID, recordID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	j, err := s.job(acct, jobID)
	if err != nil {
		return "", err
	}
	for _, st := range j.Streams {
		if st.ID == recordID {
			if st.Value != "" {
				return st.Value, nil
			}
			return st.Summary, nil
		}
	}
	return "", fmt.Errorf("job %q stream record %q: %w", jobID, recordID, source.ErrNotFound)
}

func copyFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
