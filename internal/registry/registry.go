// Package registry is the single source of truth mapping job
// identifiers to their live state machines. Only the registry creates
// or removes entries; everyone else works with snapshots.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/prospect/internal/broadcast"
	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
	"github.com/timmy/prospect/internal/pipeline"
)

// ErrNotFound signals an unknown job identifier.
var ErrNotFound = errors.New("registry: job not found")

// Registry owns all live jobs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*pipeline.Machine
	bus     *broadcast.Broadcaster
	log     *logger.Logger

	retention time.Duration
	sweep     time.Duration
}

// New creates an empty registry. Terminal jobs are evicted once they
// have been terminal for at least the retention window.
func New(bus *broadcast.Broadcaster, retention, sweep time.Duration, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Registry{
		entries:   make(map[string]*pipeline.Machine),
		bus:       bus,
		log:       log.WithField(logger.FieldComponent, "registry"),
		retention: retention,
		sweep:     sweep,
	}
}

// Create allocates a fresh identifier, inserts a queued job and returns
// its state machine. Safe under unbounded concurrent callers.
func (r *Registry) Create(input domain.JobInput) (string, *pipeline.Machine) {
	id := uuid.New().String()
	job := domain.NewJob(id, input)
	m := pipeline.NewMachine(job, r.bus, r.log)

	r.mu.Lock()
	r.entries[id] = m
	r.mu.Unlock()

	r.log.WithFields(logger.Fields{
		logger.FieldJobID: id,
		"company":         input.Company,
	}).Info("Job created")
	return id, m
}

// Get returns an immutable snapshot of the job's current state.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	m, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return m.Snapshot(), nil
}

// Remove evicts a job. Live subscribers are notified before the entry
// disappears; results from still-running workers are discarded.
func (r *Registry) Remove(id string, reason string) error {
	r.mu.Lock()
	m, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	m.MarkEvicted()
	if r.bus != nil {
		r.bus.Evict(id, reason)
	}
	r.log.WithFields(logger.Fields{
		logger.FieldJobID: id,
		"reason":          reason,
	}).Info("Job removed")
	return nil
}

// Reset discards a terminal job. The identifier is never reused; a
// subsequent submission allocates a fresh one, so observers can never
// race on a resurrected id with stale cached state.
func (r *Registry) Reset(id string) error {
	r.mu.RLock()
	m, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := m.CheckReset(); err != nil {
		return err
	}
	return r.Remove(id, "job reset")
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// RunJanitor sweeps terminal jobs past the retention window until the
// context is cancelled. Call in its own goroutine.
func (r *Registry) RunJanitor(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	sweep := r.sweep
	if sweep <= 0 {
		sweep = time.Minute
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(time.Now().UTC())
		}
	}
}

// sweepOnce removes jobs that have been terminal longer than the
// retention window.
func (r *Registry) sweepOnce(now time.Time) {
	r.mu.RLock()
	expired := make([]string, 0)
	for id, m := range r.entries {
		snap := m.Snapshot()
		if snap.Status.Terminal() && now.Sub(snap.UpdatedAt) >= r.retention {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		_ = r.Remove(id, "retention window elapsed")
	}
}
