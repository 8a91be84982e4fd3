package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timmy/prospect/internal/broadcast"
	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/pipeline"
)

func newTestRegistry(bus *broadcast.Broadcaster) *Registry {
	return New(bus, 30*time.Minute, time.Minute, nil)
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(nil)

	id, _ := r.Create(domain.JobInput{Company: "Acme Corp"})
	if id == "" {
		t.Fatal("empty job id")
	}

	snap, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.Status != domain.StatusQueued {
		t.Errorf("status = %q, want queued", snap.Status)
	}
	if snap.Input.Company != "Acme Corp" {
		t.Errorf("company = %q", snap.Input.Company)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing): got %v, want ErrNotFound", err)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	r := newTestRegistry(nil)
	id, _ := r.Create(domain.JobInput{Company: "Acme Corp"})

	snap, _ := r.Get(id)
	snap.DocCounts[domain.CategoryNews] = domain.DocCounts{Initial: 42}
	snap.Status = domain.StatusFailed

	again, _ := r.Get(id)
	if again.Status != domain.StatusQueued {
		t.Error("external mutation leaked into the live job")
	}
	if _, ok := again.DocCounts[domain.CategoryNews]; ok {
		t.Error("external map mutation leaked into the live job")
	}
}

func TestConcurrentCreateUniqueIDs(t *testing.T) {
	r := newTestRegistry(nil)

	const n = 100
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := r.Create(domain.JobInput{Company: "Acme Corp"})
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if r.Len() != n {
		t.Errorf("registry size = %d, want %d", r.Len(), n)
	}
}

func TestRemoveNotifiesSubscribers(t *testing.T) {
	bus := broadcast.New(nil)
	r := newTestRegistry(bus)
	id, _ := r.Create(domain.JobInput{Company: "Acme Corp"})

	_, _, sub := bus.Subscribe(id)
	if err := r.Remove(id, "retention window elapsed"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	select {
	case evt, ok := <-sub.C:
		if !ok {
			t.Fatal("channel closed before eviction event")
		}
		if evt.Type != domain.EventEvicted {
			t.Errorf("event type = %q, want evicted", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no eviction event delivered")
	}

	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove: got %v, want ErrNotFound", err)
	}
}

func TestResetRequiresTerminal(t *testing.T) {
	r := newTestRegistry(nil)
	id, m := r.Create(domain.JobInput{Company: "Acme Corp"})

	if err := r.Reset(id); !errors.Is(err, pipeline.ErrNotTerminal) {
		t.Errorf("Reset on queued job: got %v, want ErrNotTerminal", err)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Fail(domain.PhaseSearch, "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if err := r.Reset(id); err != nil {
		t.Fatalf("Reset on terminal job failed: %v", err)
	}
	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Error("reset job still resolvable; identifier must be discarded")
	}

	// A new submission yields a different identifier.
	id2, _ := r.Create(domain.JobInput{Company: "Acme Corp"})
	if id2 == id {
		t.Error("identifier reused after reset")
	}
}

func TestJanitorSweepsTerminalJobs(t *testing.T) {
	bus := broadcast.New(nil)
	r := New(bus, 10*time.Millisecond, time.Millisecond, nil)

	id, m := r.Create(domain.JobInput{Company: "Acme Corp"})
	keep, _ := r.Create(domain.JobInput{Company: "Other Corp"})

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Fail(domain.PhaseSearch, "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	r.sweepOnce(time.Now().UTC())

	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Error("terminal job survived the retention sweep")
	}
	if _, err := r.Get(keep); err != nil {
		t.Errorf("non-terminal job was swept: %v", err)
	}
}
