package provider

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// ScoreRequest describes one company to the scoring collaborator.
// Layers and Shots are tuning parameters forwarded opaquely from the
// batch submission; the orchestrator never interprets them.
type ScoreRequest struct {
	Company  string `json:"company"`
	Industry string `json:"industry,omitempty"`
	Layers   int    `json:"layers,omitempty"`
	Shots    int    `json:"shots,omitempty"`
}

// ScoreResult is the collaborator's opaque numeric output, bounded to
// [0, 1] on the way in.
type ScoreResult struct {
	AdvantageScore       float64 `json:"advantage_score"`
	EntanglementStrength float64 `json:"entanglement_strength"`
}

// ScorerClient calls the external feature-scoring service.
type ScorerClient struct {
	client  *resty.Client
	baseURL string
}

// ScorerConfig holds configuration for the scorer client.
type ScorerConfig struct {
	BaseURL string
	APIKey  string
}

// NewScorerClient creates a new scorer client.
func NewScorerClient(cfg *ScorerConfig) *ScorerClient {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.SetTimeout(60 * time.Second)

	return &ScorerClient{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

type scoreResponse struct {
	ScoreResult
	Detail string `json:"detail,omitempty"`
}

// Score returns the bounded scores for one company.
func (c *ScorerClient) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	var resp scoreResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.baseURL + "/score")

	if err != nil {
		return ScoreResult{}, newError("scorer", "score", 0, err.Error())
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := resp.Detail
		if msg == "" {
			msg = httpResp.Status()
		}
		return ScoreResult{}, newError("scorer", "score", httpResp.StatusCode(), msg)
	}

	res := resp.ScoreResult
	res.AdvantageScore = clamp01(res.AdvantageScore)
	res.EntanglementStrength = clamp01(res.EntanglementStrength)
	return res, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
