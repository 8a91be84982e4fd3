package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the research job ID
	FieldJobID = "job_id"

	// FieldBatchID is the batch submission ID
	FieldBatchID = "batch_id"

	// FieldItemID is the per-item job ID inside a batch
	FieldItemID = "item_id"

	// FieldPhase is the pipeline phase name
	FieldPhase = "phase"

	// FieldCategory is the research data category
	FieldCategory = "category"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
