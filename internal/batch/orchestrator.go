// Package batch runs a set of research jobs submitted together. Items
// run through the same pipeline as single submissions; the orchestrator
// only bounds concurrency, isolates failures and rolls up the results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/prospect/internal/broadcast"
	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
	"github.com/timmy/prospect/internal/pipeline"
	"github.com/timmy/prospect/internal/registry"
	"github.com/timmy/prospect/internal/research"
)

var (
	// ErrNotFound signals an unknown batch identifier.
	ErrNotFound = errors.New("batch: not found")

	// ErrEmptyBatch signals a submission with no items.
	ErrEmptyBatch = errors.New("batch: no items submitted")

	// ErrTooManyItems signals a submission above the item cap.
	ErrTooManyItems = errors.New("batch: too many items")
)

// Options carries per-batch tuning. Layers and Shots are forwarded
// opaquely to the scoring collaborator for every item.
type Options struct {
	Concurrency int
	Layers      int
	Shots       int
}

// Config bounds what a single batch may ask for.
type Config struct {
	// MaxConcurrency is the hard ceiling on parallel items regardless
	// of what the submission requests.
	MaxConcurrency int

	// MaxItems caps the number of companies in one submission.
	MaxItems int

	// Retention is how long terminal batches stay queryable. Zero
	// disables the sweep.
	Retention time.Duration

	// SweepInterval is the janitor cadence.
	SweepInterval time.Duration
}

// Runner executes one job's pipeline to a terminal state.
type Runner interface {
	Run(ctx context.Context, m *pipeline.Machine, opts research.Options) error
}

// Orchestrator owns all live batches.
type Orchestrator struct {
	mu      sync.RWMutex
	batches map[string]*entry

	reg    *registry.Registry
	runner Runner
	bus    *broadcast.Broadcaster
	cfg    Config
	log    *logger.Logger
}

// entry guards one batch's mutable state.
type entry struct {
	mu    sync.Mutex
	batch *domain.BatchJob

	// score accumulators over successful items
	advantageSum    float64
	entanglementSum float64
}

// New creates an orchestrator.
func New(reg *registry.Registry, runner Runner, bus *broadcast.Broadcaster, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Orchestrator{
		batches: make(map[string]*entry),
		reg:     reg,
		runner:  runner,
		bus:     bus,
		cfg:     cfg,
		log:     log.WithField(logger.FieldComponent, "batch"),
	}
}

// Submit registers one job per input and starts working through them,
// at most min(requested, ceiling) at a time. It returns immediately
// with the initial batch snapshot; progress flows through the batch
// event stream.
func (o *Orchestrator) Submit(ctx context.Context, inputs []domain.JobInput, opts Options) (domain.BatchJob, error) {
	if len(inputs) == 0 {
		return domain.BatchJob{}, ErrEmptyBatch
	}
	if len(inputs) > o.cfg.MaxItems {
		return domain.BatchJob{}, fmt.Errorf("%w: %d items, limit %d", ErrTooManyItems, len(inputs), o.cfg.MaxItems)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 || concurrency > o.cfg.MaxConcurrency {
		concurrency = o.cfg.MaxConcurrency
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()
	batch := &domain.BatchJob{
		ID:          batchID,
		Items:       make([]domain.BatchItem, len(inputs)),
		Concurrency: concurrency,
		Status:      domain.StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Every item job exists in the registry before Submit returns, so
	// item ids in the response are immediately queryable.
	machines := make(map[int]jobRef, len(inputs))
	for i, input := range inputs {
		jobID, m := o.reg.Create(input)
		batch.Items[i] = domain.BatchItem{
			Index:   i,
			JobID:   jobID,
			Company: input.Company,
			Status:  domain.StatusQueued,
		}
		machines[i] = jobRef{id: jobID, machine: m}
	}

	e := &entry{batch: batch}
	o.mu.Lock()
	o.batches[batchID] = e
	o.mu.Unlock()

	o.log.WithFields(logger.Fields{
		logger.FieldBatchID: batchID,
		logger.FieldCount:   len(inputs),
		"concurrency":       concurrency,
	}).Info("Batch submitted")
	o.publish(e)

	go o.runBatch(ctx, e, machines, opts)
	return batch.Snapshot(), nil
}

// Get returns the current batch snapshot.
func (o *Orchestrator) Get(batchID string) (domain.BatchJob, error) {
	o.mu.RLock()
	e, ok := o.batches[batchID]
	o.mu.RUnlock()
	if !ok {
		return domain.BatchJob{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batch.Snapshot(), nil
}

type jobRef struct {
	id      string
	machine *pipeline.Machine
}

// runBatch drains all items through a bounded worker pool. One item's
// failure never touches its siblings; the roll-up simply records it.
func (o *Orchestrator) runBatch(ctx context.Context, e *entry, machines map[int]jobRef, opts Options) {
	batchID := e.batch.ID
	ctx = logger.SetBatchID(ctx, batchID)

	sem := make(chan struct{}, e.batch.Concurrency)
	var wg sync.WaitGroup
	for i := range e.batch.Items {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runItem(ctx, e, idx, machines[idx], opts)
		}(i)
	}
	wg.Wait()

	e.mu.Lock()
	e.batch.Status = domain.StatusCompleted
	e.batch.Summary = o.summarizeLocked(e)
	e.batch.UpdatedAt = time.Now().UTC()
	snap := e.batch.Snapshot()
	e.mu.Unlock()

	logger.With(logger.Fields{
		"successful": snap.SuccessfulCount,
		"failed":     snap.FailedCount,
	}).Info(ctx, "Batch complete")
	o.publish(e)
}

// runItem runs one company's pipeline and folds its outcome into the
// batch. Item events are forwarded onto the batch stream while it runs.
func (o *Orchestrator) runItem(ctx context.Context, e *entry, idx int, ref jobRef, opts Options) {
	stopForward := o.forwardItemEvents(e.batch.ID, ref.id)
	defer stopForward()

	e.mu.Lock()
	e.batch.Items[idx].Status = domain.StatusRunning
	e.batch.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
	o.publish(e)

	runErr := o.runner.Run(ctx, ref.machine, research.Options{Layers: opts.Layers, Shots: opts.Shots})
	if runErr != nil {
		o.log.WithFields(logger.Fields{
			logger.FieldBatchID: e.batch.ID,
			logger.FieldItemID:  ref.id,
		}).WithError(runErr).Warn("Batch item failed")
	}
	o.finishItem(e, idx, ref.machine.Snapshot())
}

// finishItem records one item's terminal outcome.
func (o *Orchestrator) finishItem(e *entry, idx int, job domain.Job) {
	e.mu.Lock()
	item := &e.batch.Items[idx]
	item.Status = job.Status
	switch {
	case job.Status == domain.StatusCompleted:
		e.batch.SuccessfulCount++
		if job.Result != nil {
			e.advantageSum += job.Result.AdvantageScore
			e.entanglementSum += job.Result.EntanglementStrength
		}
	default:
		item.Status = domain.StatusFailed
		item.Error = job.FailureReason
		e.batch.FailedCount++
	}
	e.batch.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
	o.publish(e)
}

// summarizeLocked builds the roll-up. Caller holds e.mu.
func (o *Orchestrator) summarizeLocked(e *entry) *domain.BatchSummary {
	sum := &domain.BatchSummary{
		Total:           len(e.batch.Items),
		SuccessfulCount: e.batch.SuccessfulCount,
		FailedCount:     e.batch.FailedCount,
	}
	if sum.SuccessfulCount > 0 {
		sum.AvgAdvantageScore = e.advantageSum / float64(sum.SuccessfulCount)
		sum.AvgEntanglementStrength = e.entanglementSum / float64(sum.SuccessfulCount)
	}
	return sum
}

// publish emits the batch snapshot onto the batch event stream. The
// snapshot is published under the entry lock so subscribers observe
// roll-up changes in the order they were applied.
func (o *Orchestrator) publish(e *entry) {
	if o.bus == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.batch.Snapshot()
	o.bus.Publish(domain.Event{
		StreamID:  snap.ID,
		Type:      domain.EventBatchUpdate,
		Status:    snap.Status,
		Message:   fmt.Sprintf("%d/%d items done", snap.SuccessfulCount+snap.FailedCount, len(snap.Items)),
		Timestamp: time.Now().UTC(),
		Batch:     &snap,
	})
}

// RunJanitor sweeps terminal batches past the retention window until
// the context is cancelled. Call in its own goroutine.
func (o *Orchestrator) RunJanitor(ctx context.Context) {
	if o.cfg.Retention <= 0 {
		return
	}
	sweep := o.cfg.SweepInterval
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
			o.sweepOnce(time.Now().UTC())
		}
	}
}

// sweepOnce removes batches that have been terminal longer than the
// retention window, notifying live stream subscribers first.
func (o *Orchestrator) sweepOnce(now time.Time) {
	o.mu.RLock()
	expired := make([]string, 0)
	for id, e := range o.batches {
		e.mu.Lock()
		terminal := e.batch.Status.Terminal()
		age := now.Sub(e.batch.UpdatedAt)
		e.mu.Unlock()
		if terminal && age >= o.cfg.Retention {
			expired = append(expired, id)
		}
	}
	o.mu.RUnlock()

	for _, id := range expired {
		o.mu.Lock()
		delete(o.batches, id)
		o.mu.Unlock()
		if o.bus != nil {
			o.bus.Evict(id, "retention window elapsed")
		}
		o.log.WithField(logger.FieldBatchID, id).Info("Batch removed")
	}
}

// forwardItemEvents mirrors an item job's events onto the batch stream,
// tagged with the batch and item ids, so one batch subscription sees
// item-level progress. The returned func stops forwarding.
func (o *Orchestrator) forwardItemEvents(batchID, itemID string) func() {
	if o.bus == nil {
		return func() {}
	}
	_, _, sub := o.bus.Subscribe(itemID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range sub.C {
			evt.StreamID = batchID
			evt.BatchID = batchID
			evt.ItemID = itemID
			o.bus.Publish(evt)
			if evt.Terminal() {
				return
			}
		}
	}()
	return func() {
		sub.Close()
		<-done
	}
}
