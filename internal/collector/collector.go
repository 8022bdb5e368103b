// Package collector gathers assets, runbooks, jobs and job streams from
// automation accounts and hands them to an emitter.
package collector

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autodiag/internal/emitter"
	"github.com/yairfalse/autodiag/internal/filter"
	"github.com/yairfalse/autodiag/internal/journal"
	"github.com/yairfalse/autodiag/internal/source"
	"github.com/yairfalse/autodiag/pkg/automation"
)

// Pool sizes used when Config leaves them unset.
const (
	DefaultAccountConcurrency = 2
	DefaultAssetConcurrency   = 4
	DefaultStreamConcurrency  = 4
)

// ErrNoAccounts is returned by Run when no account survives filtering.
var ErrNoAccounts = errors.New("no automation accounts found")

// Config wires a Collector.
type Config struct {
	Source  source.Source
	Emitter emitter.Emitter
	Filters filter.Filters

	// Journal receives one entry per collected, skipped or failed item.
	// Nil discards entries.
	Journal journal.Recorder

	// Metrics defaults to instruments on the global meter provider.
	Metrics *Metrics

	// AssetKinds defaults to every kind.
	AssetKinds []automation.AssetKind

	AccountConcurrency int
	AssetConcurrency   int
	StreamConcurrency  int
}

// Collector runs collections for one set of filters.
type Collector struct {
	src     source.Source
	sink    emitter.Emitter
	filters filter.Filters
	journal journal.Recorder
	metrics *Metrics
	tracer  trace.Tracer
	logger  zerolog.Logger

	kinds              []automation.AssetKind
	accountConcurrency int
	assetConcurrency   int
	streamConcurrency  int
}

// New validates cfg and returns a Collector.
func New(cfg Config) (*Collector, error) {
	if cfg.Source == nil {
		return nil, errors.New("collector requires a source")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("collector requires an emitter")
	}
	if cfg.Filters.JobWindow() < 1 {
		return nil, fmt.Errorf("%w: got %d", filter.ErrInvalidWindow, cfg.Filters.JobWindow())
	}

	c := &Collector{
		src:                cfg.Source,
		sink:               cfg.Emitter,
		filters:            cfg.Filters,
		journal:            cfg.Journal,
		metrics:            cfg.Metrics,
		tracer:             otel.Tracer("autodiag/collector"),
		logger:             log.With().Str("component", "collector").Logger(),
		kinds:              cfg.AssetKinds,
		accountConcurrency: positive(cfg.AccountConcurrency, DefaultAccountConcurrency),
		assetConcurrency:   positive(cfg.AssetConcurrency, DefaultAssetConcurrency),
		streamConcurrency:  positive(cfg.StreamConcurrency, DefaultStreamConcurrency),
	}

	if c.journal == nil {
		c.journal = journal.Discard
	}
	if len(c.kinds) == 0 {
		c.kinds = automation.AssetKinds()
	}
	if c.metrics == nil {
		m, err := NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("create collector metrics: %w", err)
		}
		c.metrics = m
	}

	return c, nil
}

// Filters returns the filters the collector was built with.
func (c *Collector) Filters() filter.Filters {
	return c.filters
}

func (c *Collector) record(e journal.Entry) {
	if err := c.journal.Record(e); err != nil {
		c.logger.Warn().Err(err).Str("scope", e.Scope).Msg("journal write failed")
	}
}

func positive(v, def int) int {
	if v < 1 {
		return def
	}
	return v
}
