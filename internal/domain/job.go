package domain

import "time"

// Status represents the overall status of a research job.
// Values include StatusQueued, StatusRunning, StatusCompleted, and StatusFailed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Phase identifies one stage of the research pipeline. Phases always run
// in the order of PhaseOrder; the collaborator contract carries these
// values directly rather than free-text stage names.
type Phase string

const (
	PhaseSearch     Phase = "search"
	PhaseCuration   Phase = "curation"
	PhaseEnrichment Phase = "enrichment"
	PhaseBriefing   Phase = "briefing"
	PhaseReport     Phase = "report"
)

// PhaseOrder is the fixed execution order of pipeline phases.
var PhaseOrder = []Phase{PhaseSearch, PhaseCuration, PhaseEnrichment, PhaseBriefing, PhaseReport}

// Index returns the position of the phase in PhaseOrder, or -1 if unknown.
func (p Phase) Index() int {
	for i, ph := range PhaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Next returns the phase following p, or false if p is the last phase.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(PhaseOrder) {
		return "", false
	}
	return PhaseOrder[i+1], true
}

// PhaseStatus represents the status of a single phase within a job.
type PhaseStatus string

const (
	PhasePending PhaseStatus = "pending"
	PhaseActive  PhaseStatus = "active"
	PhaseDone    PhaseStatus = "done"
	PhaseFailed  PhaseStatus = "failed"
)

// Category identifies one research data category.
type Category string

const (
	CategoryCompany   Category = "company"
	CategoryIndustry  Category = "industry"
	CategoryFinancial Category = "financial"
	CategoryNews      Category = "news"
)

// Categories is the fixed set of research categories.
var Categories = []Category{CategoryCompany, CategoryIndustry, CategoryFinancial, CategoryNews}

// QueryRecord is one generated search query. Queries stream in
// incrementally during the search phase: a record first appears with
// Completed=false and flips to true once its search has executed.
type QueryRecord struct {
	Category  Category `json:"category"`
	Seq       int      `json:"seq"`
	Text      string   `json:"text"`
	Completed bool     `json:"completed"`
}

// DocCounts tracks per-category document counts. Initial counts the
// documents collected during search, Kept the documents that survived
// curation. Both only ever increase within a job's lifetime.
type DocCounts struct {
	Initial int `json:"initial"`
	Kept    int `json:"kept"`
}

// EnrichmentCounts tracks per-category enrichment progress.
type EnrichmentCounts struct {
	Total    int `json:"total"`
	Enriched int `json:"enriched"`
}

// ResearchResult is the final payload of a completed job. AdvantageScore
// and EntanglementStrength come from the external scoring collaborator
// and are opaque bounded values in [0, 1].
type ResearchResult struct {
	Company              string   `json:"company"`
	Report               string   `json:"report"`
	References           []string `json:"references,omitempty"`
	AdvantageScore       float64  `json:"advantage_score"`
	EntanglementStrength float64  `json:"entanglement_strength"`
}

// JobInput holds the company identity fields of a submission.
type JobInput struct {
	Company    string `json:"company"`
	CompanyURL string `json:"company_url,omitempty"`
	Industry   string `json:"industry,omitempty"`
	HQLocation string `json:"hq_location,omitempty"`
}

// Job is one end-to-end research run for a single company. It is owned
// by the registry and mutated only by the pipeline state machine that
// was handed ownership at creation; everyone else sees snapshots.
type Job struct {
	ID    string   `json:"job_id"`
	Input JobInput `json:"input"`

	Status        Status                        `json:"status"`
	Message       string                        `json:"message,omitempty"`
	CurrentPhase  Phase                         `json:"phase,omitempty"`
	Phases        map[Phase]PhaseStatus         `json:"phases"`
	Queries       []QueryRecord                 `json:"queries,omitempty"`
	DocCounts     map[Category]DocCounts        `json:"doc_counts"`
	Enrichment    map[Category]EnrichmentCounts `json:"enrichment_counts"`
	Briefings     map[Category]bool             `json:"briefing_status"`
	Result        *ResearchResult               `json:"result,omitempty"`
	FailureReason string                        `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a queued job with all phases pending.
func NewJob(id string, input JobInput) *Job {
	now := time.Now().UTC()
	phases := make(map[Phase]PhaseStatus, len(PhaseOrder))
	for _, p := range PhaseOrder {
		phases[p] = PhasePending
	}
	return &Job{
		ID:         id,
		Input:      input,
		Status:     StatusQueued,
		Phases:     phases,
		DocCounts:  make(map[Category]DocCounts),
		Enrichment: make(map[Category]EnrichmentCounts),
		Briefings:  make(map[Category]bool),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Snapshot returns a deep copy of the job. Maps, slices and the result
// are copied so callers can never mutate the live job through it.
func (j *Job) Snapshot() Job {
	cp := *j

	cp.Phases = make(map[Phase]PhaseStatus, len(j.Phases))
	for k, v := range j.Phases {
		cp.Phases[k] = v
	}
	cp.DocCounts = make(map[Category]DocCounts, len(j.DocCounts))
	for k, v := range j.DocCounts {
		cp.DocCounts[k] = v
	}
	cp.Enrichment = make(map[Category]EnrichmentCounts, len(j.Enrichment))
	for k, v := range j.Enrichment {
		cp.Enrichment[k] = v
	}
	cp.Briefings = make(map[Category]bool, len(j.Briefings))
	for k, v := range j.Briefings {
		cp.Briefings[k] = v
	}
	if j.Queries != nil {
		cp.Queries = make([]QueryRecord, len(j.Queries))
		copy(cp.Queries, j.Queries)
	}
	if j.Result != nil {
		res := *j.Result
		if j.Result.References != nil {
			res.References = make([]string, len(j.Result.References))
			copy(res.References, j.Result.References)
		}
		cp.Result = &res
	}
	return cp
}
