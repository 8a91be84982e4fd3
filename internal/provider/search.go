package provider

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// Document is one search hit returned by the search collaborator.
type Document struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score"`
}

// SearchClient calls a Tavily-compatible web search API.
type SearchClient struct {
	client     *resty.Client
	baseURL    string
	apiKey     string
	maxResults int
}

// SearchConfig holds configuration for the search client.
type SearchConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

// NewSearchClient creates a new search client.
func NewSearchClient(cfg *SearchConfig) *SearchClient {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(45 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	return &SearchClient{
		client:     client,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
	}
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Results []Document `json:"results"`
	Detail  string     `json:"detail,omitempty"`
}

// Search executes one web search query.
func (c *SearchClient) Search(ctx context.Context, query string) ([]Document, error) {
	req := searchRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: c.maxResults,
	}

	var resp searchResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.baseURL + "/search")

	if err != nil {
		return nil, newError("search", "search", 0, err.Error())
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := resp.Detail
		if msg == "" {
			msg = httpResp.Status()
		}
		return nil, newError("search", "search", httpResp.StatusCode(), msg)
	}

	return resp.Results, nil
}

type extractRequest struct {
	APIKey string   `json:"api_key"`
	URLs   []string `json:"urls"`
}

type extractResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
	Detail string `json:"detail,omitempty"`
}

// Extract fetches raw page content for the given URLs. URLs the
// provider could not extract are simply absent from the result map.
func (c *SearchClient) Extract(ctx context.Context, urls []string) (map[string]string, error) {
	if len(urls) == 0 {
		return map[string]string{}, nil
	}

	var resp extractResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(extractRequest{APIKey: c.apiKey, URLs: urls}).
		SetResult(&resp).
		Post(c.baseURL + "/extract")

	if err != nil {
		return nil, newError("search", "extract", 0, err.Error())
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := resp.Detail
		if msg == "" {
			msg = httpResp.Status()
		}
		return nil, newError("search", "extract", httpResp.StatusCode(), msg)
	}

	out := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		if r.RawContent != "" {
			out[r.URL] = r.RawContent
		}
	}
	return out, nil
}
