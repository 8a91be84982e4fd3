package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/timmy/prospect/internal/domain"
)

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(evt domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) all() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}

func newTestMachine(pub Publisher) *Machine {
	job := domain.NewJob("job-1", domain.JobInput{Company: "Acme Corp"})
	return NewMachine(job, pub, nil)
}

func TestStartOnlyFromQueued(t *testing.T) {
	m := newTestMachine(nil)

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start: got %v, want ErrInvalidState", err)
	}

	snap := m.Snapshot()
	if snap.Status != domain.StatusRunning {
		t.Errorf("status = %q, want running", snap.Status)
	}
	if snap.Phases[domain.PhaseSearch] != domain.PhaseActive {
		t.Errorf("search phase = %q, want active", snap.Phases[domain.PhaseSearch])
	}
}

func TestPhaseOrdering(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Completing a phase that is not active must be rejected.
	if err := m.Advance(domain.PhaseCuration, PhaseResult{}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("out-of-order Advance: got %v, want ErrStaleUpdate", err)
	}

	for i, phase := range domain.PhaseOrder {
		snap := m.Snapshot()
		if snap.CurrentPhase != phase {
			t.Fatalf("step %d: active phase = %q, want %q", i, snap.CurrentPhase, phase)
		}
		// Later phases must still be pending while this one is active.
		for _, later := range domain.PhaseOrder[i+1:] {
			if snap.Phases[later] != domain.PhasePending {
				t.Errorf("phase %q = %q while %q active, want pending", later, snap.Phases[later], phase)
			}
		}

		res := PhaseResult{}
		if phase == domain.PhaseReport {
			res.Result = &domain.ResearchResult{Company: "Acme Corp", Report: "# Acme"}
		}
		if err := m.Advance(phase, res); err != nil {
			t.Fatalf("Advance(%q) failed: %v", phase, err)
		}
	}

	snap := m.Snapshot()
	if snap.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed", snap.Status)
	}
	if snap.Result == nil || snap.Result.Report == "" {
		t.Error("completed job has no report")
	}
}

func TestDuplicateAdvanceDiscarded(t *testing.T) {
	pub := &capturePublisher{}
	m := newTestMachine(pub)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	docs := map[domain.Category]domain.DocCounts{
		domain.CategoryCompany: {Initial: 5},
	}
	if err := m.Advance(domain.PhaseSearch, PhaseResult{DocCounts: docs}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := m.Advance(domain.PhaseSearch, PhaseResult{DocCounts: docs}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("duplicate Advance: got %v, want ErrStaleUpdate", err)
	}

	snap := m.Snapshot()
	if got := snap.DocCounts[domain.CategoryCompany].Initial; got != 5 {
		t.Errorf("initial docs = %d after duplicate, want 5 (single apply)", got)
	}
	if snap.CurrentPhase != domain.PhaseCuration {
		t.Errorf("active phase = %q, want curation", snap.CurrentPhase)
	}
}

func TestCountsAreMonotonic(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	upd := ProgressUpdate{
		DocCounts: map[domain.Category]domain.DocCounts{
			domain.CategoryNews: {Initial: 3},
		},
	}
	if err := m.Progress(domain.PhaseSearch, upd); err != nil {
		t.Fatalf("Progress failed: %v", err)
	}

	// A negative delta must not lower the count.
	upd.DocCounts[domain.CategoryNews] = domain.DocCounts{Initial: -2}
	if err := m.Progress(domain.PhaseSearch, upd); err != nil {
		t.Fatalf("Progress failed: %v", err)
	}

	snap := m.Snapshot()
	if got := snap.DocCounts[domain.CategoryNews].Initial; got != 3 {
		t.Errorf("initial docs = %d, want 3", got)
	}
}

func TestBriefingFlagsNeverRevert(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, phase := range []domain.Phase{domain.PhaseSearch, domain.PhaseCuration, domain.PhaseEnrichment} {
		if err := m.Advance(phase, PhaseResult{}); err != nil {
			t.Fatalf("Advance(%q) failed: %v", phase, err)
		}
	}

	on := map[domain.Category]bool{domain.CategoryFinancial: true}
	off := map[domain.Category]bool{domain.CategoryFinancial: false}
	if err := m.Progress(domain.PhaseBriefing, ProgressUpdate{Briefings: on}); err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if err := m.Progress(domain.PhaseBriefing, ProgressUpdate{Briefings: off}); err != nil {
		t.Fatalf("Progress failed: %v", err)
	}

	if !m.Snapshot().Briefings[domain.CategoryFinancial] {
		t.Error("briefing flag reverted to false")
	}
}

func TestQueryRecordsUpsert(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	gen := ProgressUpdate{Queries: []domain.QueryRecord{
		{Category: domain.CategoryCompany, Seq: 0, Text: "Acme Corp overview"},
	}}
	if err := m.Progress(domain.PhaseSearch, gen); err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	done := ProgressUpdate{Queries: []domain.QueryRecord{
		{Category: domain.CategoryCompany, Seq: 0, Completed: true},
	}}
	if err := m.Progress(domain.PhaseSearch, done); err != nil {
		t.Fatalf("Progress failed: %v", err)
	}

	snap := m.Snapshot()
	if len(snap.Queries) != 1 {
		t.Fatalf("queries = %d, want 1 (upsert, not append)", len(snap.Queries))
	}
	q := snap.Queries[0]
	if q.Text != "Acme Corp overview" || !q.Completed {
		t.Errorf("query = %+v, want original text with completed flag", q)
	}
}

func TestFailTerminatesJob(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Fail(domain.PhaseSearch, "search provider unavailable"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	snap := m.Snapshot()
	if snap.Status != domain.StatusFailed {
		t.Errorf("status = %q, want failed", snap.Status)
	}
	if snap.Phases[domain.PhaseSearch] != domain.PhaseFailed {
		t.Errorf("search phase = %q, want failed", snap.Phases[domain.PhaseSearch])
	}
	if snap.FailureReason != "search provider unavailable" {
		t.Errorf("failure reason = %q, not preserved verbatim", snap.FailureReason)
	}

	// Terminal state never mutates again.
	if err := m.Advance(domain.PhaseSearch, PhaseResult{}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("Advance after failure: got %v, want ErrStaleUpdate", err)
	}
	if err := m.Fail(domain.PhaseSearch, "again"); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("second Fail: got %v, want ErrStaleUpdate", err)
	}
	if m.Snapshot().FailureReason != "search provider unavailable" {
		t.Error("failure reason changed after terminal state")
	}
}

func TestCheckReset(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.CheckReset(); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("CheckReset on queued job: got %v, want ErrNotTerminal", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Fail(domain.PhaseSearch, "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := m.CheckReset(); err != nil {
		t.Errorf("CheckReset on failed job: %v", err)
	}
}

func TestEvictedMachineDiscardsResults(t *testing.T) {
	m := newTestMachine(nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.MarkEvicted()

	if err := m.Advance(domain.PhaseSearch, PhaseResult{}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("Advance after eviction: got %v, want ErrStaleUpdate", err)
	}
	if err := m.Fail(domain.PhaseSearch, "late"); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("Fail after eviction: got %v, want ErrStaleUpdate", err)
	}
}

func TestEventsCarrySnapshots(t *testing.T) {
	pub := &capturePublisher{}
	m := newTestMachine(pub)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Advance(domain.PhaseSearch, PhaseResult{
		DocCounts: map[domain.Category]domain.DocCounts{domain.CategoryCompany: {Initial: 2}},
	}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for i, evt := range events {
		if evt.Job == nil {
			t.Fatalf("event %d missing snapshot", i)
		}
		if evt.StreamID != "job-1" {
			t.Errorf("event %d stream = %q, want job-1", i, evt.StreamID)
		}
	}
	// Mutating the snapshot must not affect the live job.
	events[1].Job.DocCounts[domain.CategoryCompany] = domain.DocCounts{Initial: 99}
	if got := m.Snapshot().DocCounts[domain.CategoryCompany].Initial; got != 2 {
		t.Errorf("live job mutated through event snapshot: initial = %d", got)
	}
}
