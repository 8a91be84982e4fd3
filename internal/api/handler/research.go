package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/pipeline"
	"github.com/timmy/prospect/internal/registry"
	"github.com/timmy/prospect/internal/repository"
	"github.com/timmy/prospect/internal/research"
	"github.com/timmy/prospect/internal/storage"
)

// ResearchHandler handles single research job endpoints.
type ResearchHandler struct {
	reg     *registry.Registry
	runner  *research.Runner
	reports *storage.ReportArchive
	archive *repository.JobArchive
	opts    research.Options
}

// NewResearchHandler creates the handler. reports and archive are
// optional; when nil the corresponding fallbacks are skipped. opts are
// the configured scorer parameters applied to single submissions.
func NewResearchHandler(reg *registry.Registry, runner *research.Runner, reports *storage.ReportArchive, archive *repository.JobArchive, opts research.Options) *ResearchHandler {
	return &ResearchHandler{
		reg:     reg,
		runner:  runner,
		reports: reports,
		archive: archive,
		opts:    opts,
	}
}

// ResearchRequest is the submission payload for one company.
type ResearchRequest struct {
	Company    string `json:"company" binding:"required"`
	CompanyURL string `json:"company_url"`
	Industry   string `json:"industry"`
	HQLocation string `json:"hq_location"`
}

// Submit handles POST /api/v1/research. The job is accepted and run in
// the background; progress flows through the event stream.
func (h *ResearchHandler) Submit(c *gin.Context) {
	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	id, m := h.reg.Create(domain.JobInput{
		Company:    req.Company,
		CompanyURL: req.CompanyURL,
		Industry:   req.Industry,
		HQLocation: req.HQLocation,
	})
	// The job outlives the request; it runs against its own context.
	go h.runner.Run(context.Background(), m, h.opts)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":        id,
		"status":        "accepted",
		"websocket_url": "/research/ws/" + id,
	})
}

// Status handles GET /api/v1/research/:id.
func (h *ResearchHandler) Status(c *gin.Context) {
	job, err := h.reg.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Report handles GET /api/v1/research/:id/report. Live jobs are served
// from memory; for evicted jobs the object store and the database
// archive are tried in turn.
func (h *ResearchHandler) Report(c *gin.Context) {
	id := c.Param("id")

	if job, err := h.reg.Get(id); err == nil {
		if job.Result == nil || job.Result.Report == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not ready"})
			return
		}
		c.JSON(http.StatusOK, h.reportPayload(id, job.Result.Report))
		return
	}

	if h.reports != nil {
		report, err := h.reports.FetchReport(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, h.reportPayload(id, report))
			return
		}
		if !errors.Is(err, storage.ErrReportNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Report lookup failed"})
			return
		}
	}

	if h.archive != nil {
		rec, err := h.archive.Get(c.Request.Context(), id)
		if err == nil && rec.Report != "" {
			c.JSON(http.StatusOK, h.reportPayload(id, rec.Report))
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
}

// reportPayload attaches the public object-store URL when one exists.
func (h *ResearchHandler) reportPayload(id, report string) gin.H {
	payload := gin.H{"report": report}
	if h.reports != nil {
		if url := h.reports.ReportURL(id); url != "" {
			payload["report_url"] = url
		}
	}
	return payload
}

// Reset handles POST /api/v1/research/:id/reset. The id is discarded
// and never reused; a resubmission gets a fresh one.
func (h *ResearchHandler) Reset(c *gin.Context) {
	err := h.reg.Reset(c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, pipeline.ErrNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is still running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// History handles GET /api/v1/research/history, serving the most
// recently archived jobs. Registered only when the archive is enabled.
func (h *ResearchHandler) History(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		// Bad limits fall through to the default.
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	recs, err := h.archive.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "History lookup failed"})
		return
	}

	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, gin.H{
			"job_id":   rec.JobID,
			"company":  rec.Company,
			"status":   rec.Status,
			"error":    rec.Reason,
			"archived": rec.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}
