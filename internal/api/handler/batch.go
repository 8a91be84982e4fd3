package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/prospect/internal/batch"
	"github.com/timmy/prospect/internal/domain"
)

// BatchHandler handles batch research endpoints.
type BatchHandler struct {
	orch *batch.Orchestrator
}

// NewBatchHandler creates the handler.
func NewBatchHandler(orch *batch.Orchestrator) *BatchHandler {
	return &BatchHandler{orch: orch}
}

// BatchRequest is the batch submission payload. QuantumLayers and
// QuantumShots are forwarded to the scoring collaborator without
// interpretation.
type BatchRequest struct {
	Companies      []ResearchRequest `json:"companies" binding:"required"`
	MaxConcurrency int               `json:"max_concurrency"`
	MaxCompanies   int               `json:"max_companies"`
	QuantumLayers  int               `json:"quantum_layers"`
	QuantumShots   int               `json:"quantum_shots"`
}

// Submit handles POST /api/v1/research/batch.
func (h *BatchHandler) Submit(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	for i, company := range req.Companies {
		if company.Company == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Company name missing at index " + strconv.Itoa(i),
			})
			return
		}
	}

	companies := req.Companies
	if req.MaxCompanies > 0 && len(companies) > req.MaxCompanies {
		companies = companies[:req.MaxCompanies]
	}

	inputs := make([]domain.JobInput, len(companies))
	for i, company := range companies {
		inputs[i] = domain.JobInput{
			Company:    company.Company,
			CompanyURL: company.CompanyURL,
			Industry:   company.Industry,
			HQLocation: company.HQLocation,
		}
	}

	// Items run past the request lifetime.
	snap, err := h.orch.Submit(context.Background(), inputs, batch.Options{
		Concurrency: req.MaxConcurrency,
		Layers:      req.QuantumLayers,
		Shots:       req.QuantumShots,
	})
	switch {
	case errors.Is(err, batch.ErrEmptyBatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No companies submitted"})
		return
	case errors.Is(err, batch.ErrTooManyItems):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":        snap.ID,
		"websocket_url": "/research/ws/" + snap.ID,
		"companies":     snap.Items,
	})
}

// Status handles GET /api/v1/batch/:id.
func (h *BatchHandler) Status(c *gin.Context) {
	snap, err := h.orch.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
