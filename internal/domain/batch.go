package domain

import "time"

// BatchItem tracks one company inside a batch submission.
type BatchItem struct {
	Index   int    `json:"index"`
	JobID   string `json:"job_id"`
	Company string `json:"company"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
}

// BatchSummary is the roll-up produced once every item is terminal.
// The averaged scores are computed over successful items only; the
// orchestrator performs no interpretation of their meaning.
type BatchSummary struct {
	Total                   int     `json:"total"`
	SuccessfulCount         int     `json:"successful_count"`
	FailedCount             int     `json:"failed_count"`
	AvgAdvantageScore       float64 `json:"avg_advantage_score"`
	AvgEntanglementStrength float64 `json:"avg_entanglement_strength"`
}

// BatchJob is a set of research jobs submitted together. It is terminal
// iff every item job is terminal; SuccessfulCount+FailedCount always
// equals the number of terminal items.
type BatchJob struct {
	ID              string        `json:"job_id"`
	Items           []BatchItem   `json:"items"`
	Concurrency     int           `json:"concurrency"`
	Status          Status        `json:"status"`
	SuccessfulCount int           `json:"successful_count"`
	FailedCount     int           `json:"failed_count"`
	Summary         *BatchSummary `json:"summary,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Terminal reports whether every item job has reached a terminal state.
func (b *BatchJob) Terminal() bool {
	return b.SuccessfulCount+b.FailedCount == len(b.Items)
}

// Snapshot returns a deep copy of the batch job.
func (b *BatchJob) Snapshot() BatchJob {
	cp := *b
	cp.Items = make([]BatchItem, len(b.Items))
	copy(cp.Items, b.Items)
	if b.Summary != nil {
		sum := *b.Summary
		cp.Summary = &sum
	}
	return cp
}
