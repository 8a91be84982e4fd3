package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/timmy/prospect/internal/domain"
)

func statusEvent(streamID string, seq int) domain.Event {
	job := domain.NewJob(streamID, domain.JobInput{Company: "Acme Corp"})
	job.Status = domain.StatusRunning
	job.DocCounts[domain.CategoryCompany] = domain.DocCounts{Initial: seq}
	snap := job.Snapshot()
	return domain.Event{
		StreamID: streamID,
		Type:     domain.EventStatusUpdate,
		Status:   domain.StatusRunning,
		Message:  fmt.Sprintf("update %d", seq),
		Job:      &snap,
	}
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	b := New(nil)
	_, ok, sub := b.Subscribe("job-1")
	defer sub.Close()
	if ok {
		t.Error("fresh stream should have no snapshot yet")
	}

	for i := 1; i <= 3; i++ {
		b.Publish(statusEvent("job-1", i))
	}

	for i := 1; i <= 3; i++ {
		select {
		case evt := <-sub.C:
			if evt.Message != fmt.Sprintf("update %d", i) {
				t.Errorf("event %d = %q, out of order", i, evt.Message)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestLateJoinerGetsSnapshot(t *testing.T) {
	b := New(nil)
	b.Publish(statusEvent("job-1", 7))

	last, ok, sub := b.Subscribe("job-1")
	defer sub.Close()
	if !ok {
		t.Fatal("late joiner got no snapshot")
	}
	if got := last.Job.DocCounts[domain.CategoryCompany].Initial; got != 7 {
		t.Errorf("snapshot initial docs = %d, want 7 (latest applied state)", got)
	}
}

func TestStreamsAreIsolated(t *testing.T) {
	b := New(nil)
	_, _, sub := b.Subscribe("job-a")
	defer sub.Close()

	b.Publish(statusEvent("job-b", 1))

	select {
	case evt := <-sub.C:
		t.Errorf("received event %q for another stream", evt.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberCoalesces(t *testing.T) {
	b := New(nil)
	_, _, sub := b.Subscribe("job-1")
	defer sub.Close()

	// Publish far beyond the buffer without draining.
	total := subscriberBuffer * 3
	for i := 1; i <= total; i++ {
		b.Publish(statusEvent("job-1", i))
	}

	// Drain: the last event must survive; earlier ones may have been
	// coalesced away, but whatever is left is still in order.
	var got []domain.Event
	for {
		select {
		case evt := <-sub.C:
			got = append(got, evt)
			continue
		default:
		}
		break
	}
	if len(got) == 0 || len(got) > subscriberBuffer {
		t.Fatalf("drained %d events, want 1..%d", len(got), subscriberBuffer)
	}
	if last := got[len(got)-1]; last.Message != fmt.Sprintf("update %d", total) {
		t.Errorf("last event = %q, want update %d", last.Message, total)
	}
	prev := 0
	for _, evt := range got {
		var seq int
		fmt.Sscanf(evt.Message, "update %d", &seq)
		if seq <= prev {
			t.Fatalf("events out of order: %d after %d", seq, prev)
		}
		prev = seq
	}
}

func TestTerminalEventSurvivesBackpressure(t *testing.T) {
	b := New(nil)
	_, _, sub := b.Subscribe("job-1")
	defer sub.Close()

	for i := 1; i <= subscriberBuffer*2; i++ {
		b.Publish(statusEvent("job-1", i))
	}
	term := statusEvent("job-1", 999)
	term.Status = domain.StatusCompleted
	b.Publish(term)

	var last domain.Event
	for {
		select {
		case evt := <-sub.C:
			last = evt
			continue
		default:
		}
		break
	}
	if !last.Terminal() {
		t.Errorf("last drained event status = %q, terminal event was lost", last.Status)
	}
}

func TestEvictNotifiesAndCloses(t *testing.T) {
	b := New(nil)
	_, _, sub := b.Subscribe("job-1")

	b.Publish(statusEvent("job-1", 1))
	b.Evict("job-1", "retention window elapsed")

	var sawEviction bool
	for evt := range sub.C {
		if evt.Type == domain.EventEvicted {
			sawEviction = true
			if evt.Message != "retention window elapsed" {
				t.Errorf("eviction reason = %q", evt.Message)
			}
		}
	}
	if !sawEviction {
		t.Error("subscriber never saw eviction event before close")
	}
	if _, ok := b.Latest("job-1"); ok {
		t.Error("snapshot survived eviction")
	}
	if n := b.SubscriberCount("job-1"); n != 0 {
		t.Errorf("subscriber count = %d after eviction", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	_, _, sub := b.Subscribe("job-1")
	sub.Close()

	// Publishing after close must not panic and must not deliver.
	b.Publish(statusEvent("job-1", 1))
	if n := b.SubscriberCount("job-1"); n != 0 {
		t.Errorf("subscriber count = %d after close", n)
	}
}
