package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timmy/prospect/internal/domain"
)

// scriptConn replays a fixed sequence of events, then returns failErr.
type scriptConn struct {
	mu     sync.Mutex
	events []domain.Event
	pos    int
	fail   error
}

func (c *scriptConn) Next(ctx context.Context) (domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos < len(c.events) {
		evt := c.events[c.pos]
		c.pos++
		return evt, nil
	}
	if c.fail != nil {
		return domain.Event{}, c.fail
	}
	<-ctx.Done()
	return domain.Event{}, ctx.Err()
}

func (c *scriptConn) Close() error { return nil }

// scriptDialer hands out conns in order; once exhausted, dials fail.
type scriptDialer struct {
	mu    sync.Mutex
	conns []Conn
	dials int
}

func (d *scriptDialer) Dial(ctx context.Context, jobID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

type scriptPoller struct {
	mu    sync.Mutex
	jobs  []domain.Job
	polls int
}

func (p *scriptPoller) Poll(ctx context.Context, jobID string) (domain.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if len(p.jobs) == 0 {
		return domain.Job{}, errors.New("no snapshot")
	}
	job := p.jobs[0]
	if len(p.jobs) > 1 {
		p.jobs = p.jobs[1:]
	}
	return job, nil
}

func statusEvent(status domain.Status, msg string) domain.Event {
	return domain.Event{
		Type:      domain.EventStatusUpdate,
		Status:    status,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
}

func fastConfig() Config {
	return Config{
		MaxReconnects:  2,
		ReconnectDelay: time.Millisecond,
		PollInterval:   time.Millisecond,
	}
}

func collect(t *testing.T, ch <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-deadline:
			t.Fatal("watch did not finish in time")
		}
	}
}

func TestWatchDeliversStreamUntilTerminal(t *testing.T) {
	dialer := &scriptDialer{conns: []Conn{&scriptConn{events: []domain.Event{
		statusEvent(domain.StatusRunning, "started"),
		statusEvent(domain.StatusRunning, "searching"),
		statusEvent(domain.StatusCompleted, "done"),
	}}}}
	a := New(dialer, &scriptPoller{}, fastConfig(), nil)

	events := collect(t, a.Watch(context.Background(), "job-1"))
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[2].Status != domain.StatusCompleted {
		t.Errorf("last event status = %q, want completed", events[2].Status)
	}
	if dialer.dials != 1 {
		t.Errorf("dials = %d, want 1", dialer.dials)
	}
}

func TestWatchReconnectsAfterDrop(t *testing.T) {
	dialer := &scriptDialer{conns: []Conn{
		&scriptConn{
			events: []domain.Event{statusEvent(domain.StatusRunning, "started")},
			fail:   errors.New("stream reset"),
		},
		&scriptConn{events: []domain.Event{
			statusEvent(domain.StatusCompleted, "done"),
		}},
	}}
	a := New(dialer, &scriptPoller{}, fastConfig(), nil)

	events := collect(t, a.Watch(context.Background(), "job-1"))
	if dialer.dials != 2 {
		t.Errorf("dials = %d, want 2", dialer.dials)
	}
	if len(events) != 2 || events[1].Status != domain.StatusCompleted {
		t.Fatalf("unexpected events after reconnect: %+v", events)
	}
}

func TestWatchFallsBackToPolling(t *testing.T) {
	running := domain.Job{ID: "job-1", Status: domain.StatusRunning, Message: "working"}
	done := domain.Job{ID: "job-1", Status: domain.StatusCompleted, Message: "finished"}
	poller := &scriptPoller{jobs: []domain.Job{running, running, done}}
	dialer := &scriptDialer{} // every dial fails
	a := New(dialer, poller, fastConfig(), nil)

	events := collect(t, a.Watch(context.Background(), "job-1"))
	if dialer.dials != 3 {
		t.Errorf("dials = %d, want 1 initial + 2 reconnects", dialer.dials)
	}
	if len(events) == 0 {
		t.Fatal("polling fallback delivered no events")
	}
	last := events[len(events)-1]
	if last.Status != domain.StatusCompleted {
		t.Errorf("final polled status = %q, want completed", last.Status)
	}
	if last.Job == nil || last.Job.Message != "finished" {
		t.Error("polled event does not carry the job snapshot")
	}
}

func TestWatchStopsOnEvictedStream(t *testing.T) {
	dialer := &scriptDialer{conns: []Conn{&scriptConn{events: []domain.Event{
		statusEvent(domain.StatusRunning, "started"),
		{Type: domain.EventEvicted, Status: domain.StatusRunning, Message: "job reset"},
	}}}}
	a := New(dialer, &scriptPoller{}, fastConfig(), nil)

	events := collect(t, a.Watch(context.Background(), "job-1"))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Type != domain.EventEvicted {
		t.Errorf("last event type = %q, want evicted", events[1].Type)
	}
}

func TestWatchHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &scriptDialer{conns: []Conn{&scriptConn{events: []domain.Event{
		statusEvent(domain.StatusRunning, "started"),
	}}}}
	a := New(dialer, &scriptPoller{}, fastConfig(), nil)

	ch := a.Watch(ctx, "job-1")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no first event")
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// a buffered event may still drain; the channel must close next
			if _, ok := <-ch; ok {
				t.Fatal("channel still open after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
