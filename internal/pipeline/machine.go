// Package pipeline drives a single research job through its fixed
// sequence of phases. The machine is purely reactive: phase workers
// report progress and completion, the machine applies state transitions
// and publishes a snapshot event after every mutation.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
)

var (
	// ErrInvalidState signals an operation that the job's current
	// status does not admit (e.g. starting a running job).
	ErrInvalidState = errors.New("pipeline: invalid job state")

	// ErrStaleUpdate signals a duplicate or late phase report. The
	// update is discarded without mutating state.
	ErrStaleUpdate = errors.New("pipeline: stale phase update")

	// ErrNotTerminal signals a reset attempt on a non-terminal job.
	ErrNotTerminal = errors.New("pipeline: job is not terminal")
)

// Publisher receives an event after every applied state change.
type Publisher interface {
	Publish(evt domain.Event)
}

// ProgressUpdate carries incremental, not-yet-final output of the
// active phase. Count fields are non-negative deltas; query records are
// upserted by (category, seq) and a completion flag never clears.
type ProgressUpdate struct {
	Message    string
	Queries    []domain.QueryRecord
	DocCounts  map[domain.Category]domain.DocCounts
	Enrichment map[domain.Category]domain.EnrichmentCounts
	Briefings  map[domain.Category]bool
}

// PhaseResult is a phase worker's completion payload. Anything already
// streamed through ProgressUpdate should be omitted here; merges are
// additive and applied exactly once per phase.
type PhaseResult struct {
	Message    string
	Queries    []domain.QueryRecord
	DocCounts  map[domain.Category]domain.DocCounts
	Enrichment map[domain.Category]domain.EnrichmentCounts
	Briefings  map[domain.Category]bool
	Result     *domain.ResearchResult
}

// Machine owns one job and serializes all mutations to it. Readers get
// deep snapshots; the single-writer discipline means no lock is ever
// exposed outside this type.
type Machine struct {
	mu      sync.Mutex
	job     *domain.Job
	pub     Publisher
	log     *logger.Logger
	applied map[domain.Phase]bool
	evicted bool
}

// NewMachine wraps a freshly created job.
func NewMachine(job *domain.Job, pub Publisher, log *logger.Logger) *Machine {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Machine{
		job:     job,
		pub:     pub,
		log:     log.WithField(logger.FieldJobID, job.ID),
		applied: make(map[domain.Phase]bool),
	}
}

// JobID returns the owned job's identifier.
func (m *Machine) JobID() string {
	return m.job.ID
}

// Snapshot returns a deep copy of the current job state.
func (m *Machine) Snapshot() domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Snapshot()
}

// Terminal reports whether the job has reached a terminal status.
func (m *Machine) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Status.Terminal()
}

// Start transitions the job from queued to running and activates the
// first phase.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.evicted || m.job.Status != domain.StatusQueued {
		return fmt.Errorf("%w: cannot start job in status %q", ErrInvalidState, m.job.Status)
	}

	m.job.Status = domain.StatusRunning
	m.job.CurrentPhase = domain.PhaseOrder[0]
	m.job.Phases[m.job.CurrentPhase] = domain.PhaseActive
	m.job.Message = "Research started"
	m.touch()

	m.log.WithField("company", m.job.Input.Company).Info("Job started")
	m.publishLocked(domain.EventStatusUpdate, m.job.Message)
	return nil
}

// Progress merges an incremental update from the active phase. Late or
// mismatched reports are discarded with a warning, never applied.
func (m *Machine) Progress(phase domain.Phase, upd ProgressUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkActiveLocked(phase); err != nil {
		return err
	}

	m.mergeLocked(upd.Queries, upd.DocCounts, upd.Enrichment, upd.Briefings)
	if upd.Message != "" {
		m.job.Message = upd.Message
	}
	m.touch()
	m.publishLocked(domain.EventStatusUpdate, m.job.Message)
	return nil
}

// Advance marks the active phase done, merges its payload exactly once,
// and activates the next phase or completes the job. A racing duplicate
// completion for the same phase is discarded.
func (m *Machine) Advance(phase domain.Phase, res PhaseResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[phase] {
		m.log.WithField(logger.FieldPhase, string(phase)).Warn("Duplicate phase completion discarded")
		return fmt.Errorf("%w: phase %q already applied", ErrStaleUpdate, phase)
	}
	if err := m.checkActiveLocked(phase); err != nil {
		return err
	}

	m.mergeLocked(res.Queries, res.DocCounts, res.Enrichment, res.Briefings)
	m.applied[phase] = true
	m.job.Phases[phase] = domain.PhaseDone

	if next, ok := phase.Next(); ok {
		m.job.CurrentPhase = next
		m.job.Phases[next] = domain.PhaseActive
		m.job.Message = res.Message
		if m.job.Message == "" {
			m.job.Message = fmt.Sprintf("Phase %s complete", phase)
		}
	} else {
		m.job.Status = domain.StatusCompleted
		m.job.Result = res.Result
		m.job.Message = "Research completed successfully"
	}
	m.touch()

	m.log.WithFields(logger.Fields{
		logger.FieldPhase:  string(phase),
		logger.FieldStatus: string(m.job.Status),
	}).Info("Phase complete")
	m.publishLocked(domain.EventStatusUpdate, m.job.Message)
	return nil
}

// Fail marks the active phase and the job failed, preserving the reason
// verbatim for observers. Failing an already terminal job is discarded.
func (m *Machine) Fail(phase domain.Phase, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.evicted || m.job.Status.Terminal() {
		m.log.WithField(logger.FieldPhase, string(phase)).Warn("Late failure for terminal job discarded")
		return fmt.Errorf("%w: job already terminal", ErrStaleUpdate)
	}

	if st, ok := m.job.Phases[phase]; ok && st == domain.PhaseActive {
		m.job.Phases[phase] = domain.PhaseFailed
	}
	m.job.Status = domain.StatusFailed
	m.job.FailureReason = reason
	m.job.Message = fmt.Sprintf("Research failed: %s", reason)
	m.touch()

	m.log.WithFields(logger.Fields{
		logger.FieldPhase: string(phase),
		"reason":          reason,
	}).Error("Job failed")
	m.publishLocked(domain.EventStatusUpdate, m.job.Message)
	return nil
}

// MarkEvicted severs the machine from its job. Any worker result that
// arrives afterwards is discarded; the identifier is never resurrected.
func (m *Machine) MarkEvicted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = true
}

// CheckReset verifies that the job may be discarded. Only terminal jobs
// may be reset; resubmission always yields a fresh identifier.
func (m *Machine) CheckReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.job.Status.Terminal() {
		return ErrNotTerminal
	}
	return nil
}

// checkActiveLocked rejects reports for anything but the currently
// active phase. Covers both late reports for finished phases and
// out-of-order reports for phases not yet reached.
func (m *Machine) checkActiveLocked(phase domain.Phase) error {
	if m.evicted || m.job.Status.Terminal() {
		return fmt.Errorf("%w: job already terminal", ErrStaleUpdate)
	}
	if m.job.Status != domain.StatusRunning {
		return fmt.Errorf("%w: job not running", ErrInvalidState)
	}
	if m.job.CurrentPhase != phase {
		m.log.WithFields(logger.Fields{
			logger.FieldPhase: string(phase),
			"active":          string(m.job.CurrentPhase),
		}).Warn("Phase update does not match active phase, discarded")
		return fmt.Errorf("%w: phase %q is not active", ErrStaleUpdate, phase)
	}
	return nil
}

// mergeLocked applies the monotonic merge rules: counts add (negative
// deltas are dropped), briefing flags OR-combine, query records upsert
// by (category, seq) and a completion flag never clears.
func (m *Machine) mergeLocked(
	queries []domain.QueryRecord,
	docs map[domain.Category]domain.DocCounts,
	enrich map[domain.Category]domain.EnrichmentCounts,
	briefings map[domain.Category]bool,
) {
	for _, q := range queries {
		idx := -1
		for i, have := range m.job.Queries {
			if have.Category == q.Category && have.Seq == q.Seq {
				idx = i
				break
			}
		}
		if idx < 0 {
			m.job.Queries = append(m.job.Queries, q)
			continue
		}
		if q.Text != "" {
			m.job.Queries[idx].Text = q.Text
		}
		m.job.Queries[idx].Completed = m.job.Queries[idx].Completed || q.Completed
	}

	for cat, d := range docs {
		have := m.job.DocCounts[cat]
		if d.Initial > 0 {
			have.Initial += d.Initial
		}
		if d.Kept > 0 {
			have.Kept += d.Kept
		}
		m.job.DocCounts[cat] = have
	}

	for cat, e := range enrich {
		have := m.job.Enrichment[cat]
		if e.Total > 0 {
			have.Total += e.Total
		}
		if e.Enriched > 0 {
			have.Enriched += e.Enriched
		}
		m.job.Enrichment[cat] = have
	}

	for cat, done := range briefings {
		m.job.Briefings[cat] = m.job.Briefings[cat] || done
	}
}

func (m *Machine) touch() {
	m.job.UpdatedAt = time.Now().UTC()
}

// publishLocked emits a snapshot event for the current state. The
// snapshot is taken under the lock so subscribers observe mutations in
// the order they were applied.
func (m *Machine) publishLocked(typ domain.EventType, message string) {
	if m.pub == nil {
		return
	}
	snap := m.job.Snapshot()
	m.pub.Publish(domain.Event{
		StreamID:  m.job.ID,
		Type:      typ,
		Status:    m.job.Status,
		Message:   message,
		Phase:     m.job.CurrentPhase,
		Timestamp: time.Now().UTC(),
		Job:       &snap,
	})
}
