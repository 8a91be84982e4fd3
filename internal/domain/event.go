package domain

import "time"

// EventType classifies a broadcast event.
type EventType string

const (
	// EventStatusUpdate is a regular state change; the embedded snapshot
	// carries the full current job state.
	EventStatusUpdate EventType = "status_update"

	// EventBatchUpdate is a batch-level roll-up change.
	EventBatchUpdate EventType = "batch_update"

	// EventEvicted signals that the job has been removed from the
	// registry; no further events will follow on this stream.
	EventEvicted EventType = "evicted"
)

// Event is one message on a job's ordered event stream. Every event
// carries the full current snapshot, so a later event always supersedes
// an earlier one; a consumer that misses intermediate events still ends
// up with correct state.
type Event struct {
	StreamID  string    `json:"-"`
	Type      EventType `json:"type"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Job   *Job      `json:"job,omitempty"`
	Batch *BatchJob `json:"batch,omitempty"`

	// Set on events forwarded from a batch item onto the batch stream.
	BatchID string `json:"batch_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
}

// Terminal reports whether this is the final event of a stream.
func (e Event) Terminal() bool {
	return e.Type == EventEvicted || e.Status.Terminal()
}
