// Package research implements the phase workers of the pipeline:
// search, curation, enrichment, briefing and report. Each worker talks
// to an external collaborator, streams incremental progress through the
// state machine, and reports completion or failure; sequencing and
// state transitions stay with the state machine.
package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
	"github.com/timmy/prospect/internal/pipeline"
	"github.com/timmy/prospect/internal/provider"
)

// SearchProvider is the external web search collaborator.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]provider.Document, error)
	Extract(ctx context.Context, urls []string) (map[string]string, error)
}

// ModelProvider is the language-model collaborator.
type ModelProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Scorer is the opaque scoring collaborator. Only its latency and
// failure behavior matter here; the numeric output is passed through.
type Scorer interface {
	Score(ctx context.Context, req provider.ScoreRequest) (provider.ScoreResult, error)
}

// Archiver persists a terminal job somewhere durable, best-effort.
type Archiver interface {
	ArchiveJob(ctx context.Context, job domain.Job) error
}

// Config holds runner tuning.
type Config struct {
	// Workers bounds intra-phase fan-out (categories, queries,
	// extraction chunks) against rate-limited collaborators.
	Workers int

	// RetryCount is the number of retries for a flaky collaborator
	// call. Retries stay inside the worker; the state machine sees a
	// single completion or failure per phase.
	RetryCount int

	// PhaseTimeout bounds each phase's external call latency. A timed
	// out phase fails like any other collaborator failure.
	PhaseTimeout time.Duration

	// QueriesPerCategory is how many search queries to generate per
	// research category.
	QueriesPerCategory int

	// MinKeepScore is the relevance floor for curation. Documents the
	// search collaborator scored below it are dropped.
	MinKeepScore float64
}

// Options carries per-run overrides, forwarded opaquely to the scorer.
type Options struct {
	Layers int
	Shots  int
}

// Runner drives one job's phases in order.
type Runner struct {
	search    SearchProvider
	model     ModelProvider
	scorer    Scorer
	archivers []Archiver
	cfg       Config
	log       *logger.Logger
}

// NewRunner creates a runner. scorer may be nil, in which case result
// scores stay zero.
func NewRunner(search SearchProvider, model ModelProvider, scorer Scorer, cfg Config, log *logger.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueriesPerCategory <= 0 {
		cfg.QueriesPerCategory = 4
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 3 * time.Minute
	}
	if cfg.MinKeepScore <= 0 {
		cfg.MinKeepScore = 0.40
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Runner{
		search: search,
		model:  model,
		scorer: scorer,
		cfg:    cfg,
		log:    log.WithField(logger.FieldComponent, "research"),
	}
}

// AddArchiver registers a best-effort terminal-state archiver.
func (r *Runner) AddArchiver(a Archiver) {
	if a != nil {
		r.archivers = append(r.archivers, a)
	}
}

// runState accumulates intermediate data across phases of one job.
// The mutex guards maps written by concurrent category workers.
type runState struct {
	mu        sync.Mutex
	input     domain.JobInput
	opts      Options
	docs      map[domain.Category][]provider.Document
	briefings map[domain.Category]string
	refs      []string
}

// Run executes the whole pipeline for one job. It returns once the job
// is terminal; the error mirrors the failure reason for callers that
// care, but all state is already on the job itself.
func (r *Runner) Run(ctx context.Context, m *pipeline.Machine, opts Options) error {
	snap := m.Snapshot()
	ctx = logger.SetJobID(ctx, snap.ID)
	log := r.log.WithField(logger.FieldJobID, snap.ID)

	if err := m.Start(); err != nil {
		return err
	}

	state := &runState{
		input:     snap.Input,
		opts:      opts,
		docs:      make(map[domain.Category][]provider.Document),
		briefings: make(map[domain.Category]string),
	}

	phases := []struct {
		phase domain.Phase
		run   func(context.Context, *pipeline.Machine, *runState) (pipeline.PhaseResult, error)
	}{
		{domain.PhaseSearch, r.runSearch},
		{domain.PhaseCuration, r.runCuration},
		{domain.PhaseEnrichment, r.runEnrichment},
		{domain.PhaseBriefing, r.runBriefing},
		{domain.PhaseReport, r.runReport},
	}

	start := time.Now()
	for _, p := range phases {
		phaseCtx, cancel := context.WithTimeout(ctx, r.cfg.PhaseTimeout)
		res, err := p.run(phaseCtx, m, state)
		cancel()

		if err != nil {
			if failErr := m.Fail(p.phase, err.Error()); failErr != nil {
				// Job went terminal or was evicted meanwhile; the late
				// failure is discarded, not applied.
				log.WithError(failErr).Warn("Late phase failure discarded")
			}
			r.archive(ctx, m)
			return err
		}
		if err := m.Advance(p.phase, res); err != nil {
			log.WithError(err).Warn("Phase completion discarded")
			return err
		}
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Research pipeline completed: company=%s", state.input.Company)
	r.archive(ctx, m)
	return nil
}

// archive hands the terminal snapshot to every registered archiver.
// Failures are logged, never surfaced: persistence is best-effort.
func (r *Runner) archive(ctx context.Context, m *pipeline.Machine) {
	if len(r.archivers) == 0 {
		return
	}
	snap := m.Snapshot()
	if !snap.Status.Terminal() {
		return
	}
	for _, a := range r.archivers {
		if err := a.ArchiveJob(ctx, snap); err != nil {
			r.log.WithField(logger.FieldJobID, snap.ID).WithError(err).Warn("Job archive failed")
		}
	}
}

// withRetry runs op up to 1+RetryCount times with a short fixed delay.
func (r *Runner) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

// forEachCategory fans one function out over all categories, bounded by
// the worker ceiling. The first error wins; remaining work still
// drains before return.
func (r *Runner) forEachCategory(ctx context.Context, fn func(context.Context, domain.Category) error) error {
	sem := make(chan struct{}, r.cfg.Workers)
	errCh := make(chan error, len(domain.Categories))

	for _, cat := range domain.Categories {
		sem <- struct{}{}
		go func(cat domain.Category) {
			defer func() { <-sem }()
			errCh <- fn(ctx, cat)
		}(cat)
	}

	var first error
	for range domain.Categories {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func phaseError(phase domain.Phase, err error) error {
	return fmt.Errorf("%s: %w", phase, err)
}
