// Package transport is a stateless JSON/HTTP client for the remote semantic
// index and question-generation service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// APIError is the normalized form of any non-success remote outcome. It
// carries the HTTP status and the raw response body; transport never
// swallows a failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// Client talks to the remote service. It holds no request state; every call
// is independent. Timeouts are enforced by the underlying http.Client, the
// caller's context, or both.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a client for the service at baseURL (e.g. http://127.0.0.1:8742).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// HealthResponse reports remote service health.
type HealthResponse struct {
	Status          string `json:"status"`
	IndexConnected  bool   `json:"chroma_connected"`
	IndexedInsights int    `json:"indexed_insights"`
	VaultPath       string `json:"vault_path,omitempty"`
	Watching        bool   `json:"watching"`
}

// IndexRequest is the payload for indexing one understanding note.
type IndexRequest struct {
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter"`
	ModifiedAt  string         `json:"modified_at,omitempty"`
}

// IndexResponse is returned after an index upsert.
type IndexResponse struct {
	Success            bool   `json:"success"`
	InsightID          string `json:"insight_id"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

// DeleteResponse is returned after removing a note from the index.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ReindexResponse reports a bulk server-side reindex.
type ReindexResponse struct {
	Success      bool     `json:"success"`
	IndexedCount int      `json:"indexed_count"`
	Errors       []string `json:"errors"`
}

// QueryRequest asks for understandings related to a question body.
type QueryRequest struct {
	QuestionContent string  `json:"question_content"`
	TopK            int     `json:"top_k,omitempty"`
	MinSimilarity   float64 `json:"min_similarity,omitempty"`
}

// QueryResponse carries the retrieved understandings.
type QueryResponse struct {
	Insights []models.RetrievedInsight `json:"insights"`
}

// GenerateRequest asks for comparison questions over retrieved understandings.
type GenerateRequest struct {
	CurrentQuestion   string                    `json:"current_question"`
	RetrievedInsights []models.RetrievedInsight `json:"retrieved_insights"`
}

// GenerateResponse carries generated questions plus token accounting.
type GenerateResponse struct {
	Questions  []models.ComparisonQuestion `json:"questions"`
	TokenUsage models.TokenUsage           `json:"token_usage"`
}

// ConfigResponse is the remote service configuration.
type ConfigResponse struct {
	VaultPath        string `json:"vault_path,omitempty"`
	Watching         bool   `json:"watching"`
	OpenAIConfigured bool   `json:"openai_configured"`
}

// Health checks remote service health and index connectivity.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexUpsert indexes (or re-indexes) one understanding note.
func (c *Client) IndexUpsert(ctx context.Context, req IndexRequest) (*IndexResponse, error) {
	var out IndexResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/insights/index", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexDelete removes the note at path from the remote index.
func (c *Client) IndexDelete(ctx context.Context, path string) (*DeleteResponse, error) {
	var out DeleteResponse
	ep := "/api/v1/insights/" + url.PathEscape(path)
	if err := c.do(ctx, http.MethodDelete, ep, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReindexAll asks the server to bulk re-index every understanding under rootPath.
func (c *Client) ReindexAll(ctx context.Context, rootPath string) (*ReindexResponse, error) {
	var out ReindexResponse
	req := struct {
		VaultPath string `json:"vault_path"`
	}{VaultPath: rootPath}
	if err := c.do(ctx, http.MethodPost, "/api/v1/insights/reindex", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retrieve returns understandings semantically related to the question body.
func (c *Client) Retrieve(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query/insights", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate produces comparison questions over the retrieved understandings.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var out GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/generate/comparison-questions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig fetches the remote service configuration.
func (c *Client) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	var out ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConfig points the remote service at a new vault root.
func (c *Client) UpdateConfig(ctx context.Context, rootPath string) (*ConfigResponse, error) {
	var out ConfigResponse
	req := struct {
		VaultPath string `json:"vault_path"`
	}{VaultPath: rootPath}
	if err := c.do(ctx, http.MethodPut, "/api/v1/config", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one request and decodes the response. Any non-2xx status is
// normalized into *APIError with the body attached.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("transport: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("transport: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}
