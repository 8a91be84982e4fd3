package provider

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ModelClient calls an OpenAI-compatible chat completions API. It is
// the collaborator behind query generation, briefings and the final
// report narrative.
type ModelClient struct {
	client   *resty.Client
	model    string
	endpoint string
}

// ModelConfig holds configuration for the model client.
type ModelConfig struct {
	Model   string
	APIKey  string
	BaseURL string
}

// NewModelClient creates a new model client.
func NewModelClient(cfg *ModelConfig) *ModelClient {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(120 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &ModelClient{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a system+user prompt pair and returns the completion text.
func (c *ModelClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
	}

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.endpoint)

	if err != nil {
		return "", newError("model", "completion", 0, err.Error())
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := httpResp.Status()
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", newError("model", "completion", httpResp.StatusCode(), msg)
	}
	if len(resp.Choices) == 0 {
		return "", newError("model", "completion", 0, "empty completion")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
