// Package emitter defines the output sink for collected tables.
package emitter

import (
	"context"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// Emitter persists collected tables and runbook exports.
// A zero Account addresses the run root rather than an account namespace.
type Emitter interface {
	// Emit renders one table under the account namespace.
	Emit(ctx context.Context, acct automation.Account, table automation.Table) error

	// Export saves one runbook definition under the account namespace.
	Export(ctx context.Context, acct automation.Account, export automation.RunbookExport) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, acct automation.Account, table automation.Table) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, acct, table); err != nil {
			return err
		}
	}
	return nil
}

// Export sends to all emitters, returns first error.
func (m *MultiEmitter) Export(ctx context.Context, acct automation.Account, export automation.RunbookExport) error {
	for _, e := range m.emitters {
		if err := e.Export(ctx, acct, export); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
