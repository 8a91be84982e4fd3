// Package session maintains a client-side live view of one job. It
// prefers the realtime stream, reconnects a bounded number of times
// when the stream drops, and degrades to polling the status endpoint
// until the job is terminal. Consumers see one ordered event channel
// either way.
package session

import (
	"context"
	"time"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
)

// Conn is one live stream connection.
type Conn interface {
	// Next blocks until the next event arrives or the stream breaks.
	Next(ctx context.Context) (domain.Event, error)
	Close() error
}

// Dialer opens a live stream for one job.
type Dialer interface {
	Dial(ctx context.Context, jobID string) (Conn, error)
}

// Poller fetches the job's current snapshot over plain HTTP.
type Poller interface {
	Poll(ctx context.Context, jobID string) (domain.Job, error)
}

// Config tunes the adapter's degradation behavior.
type Config struct {
	// MaxReconnects bounds consecutive failed dial attempts before the
	// adapter gives up on the stream and switches to polling.
	MaxReconnects int

	// ReconnectDelay is the fixed pause between reconnect attempts.
	ReconnectDelay time.Duration

	// PollInterval is the cadence of the polling fallback.
	PollInterval time.Duration
}

// Adapter watches jobs on behalf of a client.
type Adapter struct {
	dialer Dialer
	poller Poller
	cfg    Config
	log    *logger.Logger
}

// New creates an adapter. poller may be nil, in which case a dead
// stream ends the watch instead of degrading.
func New(dialer Dialer, poller Poller, cfg Config, log *logger.Logger) *Adapter {
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Adapter{
		dialer: dialer,
		poller: poller,
		cfg:    cfg,
		log:    log.WithField(logger.FieldComponent, "session"),
	}
}

// Watch follows one job until it is terminal, the stream is evicted, or
// the context is cancelled. The returned channel closes when the watch
// ends; it is never closed before the terminal event has been
// delivered.
func (a *Adapter) Watch(ctx context.Context, jobID string) <-chan domain.Event {
	out := make(chan domain.Event, 16)
	go a.watch(ctx, jobID, out)
	return out
}

func (a *Adapter) watch(ctx context.Context, jobID string, out chan<- domain.Event) {
	defer close(out)
	log := a.log.WithField(logger.FieldJobID, jobID)

	attempts := 0
	for attempts <= a.cfg.MaxReconnects {
		if attempts > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.ReconnectDelay):
			}
		}

		conn, err := a.dialer.Dial(ctx, jobID)
		if err != nil {
			attempts++
			log.WithError(err).Warn("Stream dial failed")
			continue
		}

		done, streamErr := a.consume(ctx, conn, out)
		conn.Close()
		if done {
			return
		}
		attempts++
		if streamErr != nil {
			log.WithError(streamErr).Warn("Stream dropped")
		}
	}

	if a.poller == nil {
		log.Warn("Stream unavailable and no polling fallback configured")
		return
	}
	log.Info("Falling back to status polling")
	a.pollLoop(ctx, jobID, out)
}

// consume forwards stream events until the job is terminal or the
// stream breaks. done is true when the watch is finished for good.
func (a *Adapter) consume(ctx context.Context, conn Conn, out chan<- domain.Event) (done bool, err error) {
	for {
		evt, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return false, err
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return true, nil
		}
		if evt.Terminal() {
			return true, nil
		}
	}
}

// pollLoop synthesizes status events from snapshots until terminal.
// Poll errors are tolerated; the next tick tries again.
func (a *Adapter) pollLoop(ctx context.Context, jobID string, out chan<- domain.Event) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := a.poller.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.WithField(logger.FieldJobID, jobID).WithError(err).Warn("Status poll failed")
		} else {
			evt := domain.Event{
				StreamID:  jobID,
				Type:      domain.EventStatusUpdate,
				Status:    job.Status,
				Message:   job.Message,
				Phase:     job.CurrentPhase,
				Timestamp: time.Now().UTC(),
				Job:       &job,
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
			if evt.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
