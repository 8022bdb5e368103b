// Package source defines the remote automation service interface and the
// registry of backends that implement it.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// ErrNotFound is returned when a named item does not exist in an account.
var ErrNotFound = errors.New("not found")

// Source is the narrow interface to the automation service.
// All calls are synchronous and may fail with transport or authorization errors.
type Source interface {
	// Name returns the backend identifier (e.g., "azure", "snapshot").
	Name() string

	ListAccounts(ctx context.Context) ([]automation.Account, error)

	ListAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.AssetSummary, error)
	GetAsset(ctx context.Context, acct automation.Account, kind automation.AssetKind, name string) (automation.Asset, error)

	ListRunbooks(ctx context.Context, acct automation.Account) ([]automation.RunbookSummary, error)
	GetRunbook(ctx context.Context, acct automation.Account, name string) (automation.Runbook, error)
	// ExportRunbook returns the runbook definition held in the given slot.
	ExportRunbook(ctx context.Context, acct automation.Account, name string, slot automation.ExportSlot) ([]byte, error)

	ListJobs(ctx context.Context, acct automation.Account) ([]automation.JobSummary, error)
	GetJob(ctx context.Context, acct automation.Account, id string) (automation.Job, error)

	// ListJobStreams returns every output record of a job, any stream type.
	ListJobStreams(ctx context.Context, acct automation.Account, jobID string) ([]automation.StreamSummary, error)
	GetStreamValue(ctx context.Context, acct automation.Account, jobID, recordID string) (string, error)
}

// Factory opens a backend from its settings.
type Factory func(ctx context.Context, cfg Config) (Source, error)

// Config carries backend settings resolved by the CLI.
type Config struct {
	SubscriptionID string
	SnapshotPath   string
}

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a backend factory under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Open creates the named backend.
func Open(ctx context.Context, name string, cfg Config) (Source, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source %q (available: %v)", name, Names())
	}
	return f(ctx, cfg)
}

// Names returns all registered backend names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all backends from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}
