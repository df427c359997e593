// Package client calls the federated daemon's control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/federated/internal/platform"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
	"github.com/fyrsmithlabs/federated/internal/worker"
)

// DefaultURL is the daemon's default listen address.
const DefaultURL = "http://127.0.0.1:8989"

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsBadRequest reports whether err is a 400 from the daemon.
func IsBadRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}

// Client is a control API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A zero timeout means 30s; enforcement
// runs and jobs can take a while.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (platform.Status, error) {
	var st platform.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Search calls GET /search. Filters named like a reserved parameter are
// sent with the filter. prefix.
func (c *Client) Search(ctx context.Context, text string, filters map[string]string) ([]search.Result, error) {
	q := url.Values{}
	for k, v := range filters {
		if k == "q" || k == "limit" || strings.HasPrefix(k, "filter.") {
			k = "filter." + k
		}
		q.Set(k, v)
	}
	q.Set("q", text)
	var out []search.Result
	err := c.do(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &out)
	return out, err
}

// Enforce calls POST /enforce. An empty path enforces the whole root.
func (c *Client) Enforce(ctx context.Context, path string) (rules.FixOutcome, error) {
	var out rules.FixOutcome
	err := c.do(ctx, http.MethodPost, "/enforce", map[string]string{"file_path": path}, &out)
	return out, err
}

// Query calls POST /query.
func (c *Client) Query(ctx context.Context, query string, params map[string]any) ([]store.Row, error) {
	var out []store.Row
	err := c.do(ctx, http.MethodPost, "/query", map[string]any{"query": query, "params": params}, &out)
	return out, err
}

// RunJob calls POST /jobs.
func (c *Client) RunJob(ctx context.Context, input, output string) (worker.Result, error) {
	var out worker.Result
	err := c.do(ctx, http.MethodPost, "/jobs", map[string]string{"input": input, "output": output}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
			apiErr.Message = msg.Message
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
