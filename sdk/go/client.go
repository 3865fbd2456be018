package basinsdk

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
)

// Client is a minimal Basin HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run represents a build/solve/check pass over a scenario.
type Run struct {
	ID        string `json:"id"`
	Scenario  string `json:"scenario"`
	Status    string `json:"status"`
	LPPath    string `json:"lp_path,omitempty"`
	Variables int    `json:"variables"`
	Rows      int    `json:"rows"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Result is one solved value: a flow, spill, volume, power or pump figure.
type Result struct {
	Kind        string  `json:"kind"`
	EntityID    string  `json:"entity_id"`
	TimepointID string  `json:"timepoint_id"`
	Value       float64 `json:"value"`
}

// Violation is a constraint or bound the checked point fails to satisfy.
type Violation struct {
	Row    string  `json:"row"`
	Detail string  `json:"detail"`
	Amount float64 `json:"amount"`
}

// SolveResult wraps a run with its feasibility check.
type SolveResult struct {
	Run        Run         `json:"run"`
	Infeasible bool        `json:"infeasible,omitempty"`
	Violations []Violation `json:"violations"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Runs lists runs, optionally filtered by scenario name.
func (c *Client) Runs(ctx context.Context, scenario string) ([]Run, error) {
	endpoint := "v0/runs"
	if scenario != "" {
		endpoint += "?scenario=" + url.QueryEscape(scenario)
	}
	var resp []Run
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Run fetches one run by id.
func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "v0/runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Results returns the solved values of a run, optionally filtered by kind.
func (c *Client) Results(ctx context.Context, runID, kind string) ([]Result, error) {
	endpoint := fmt.Sprintf("v0/runs/%s/results", url.PathEscape(runID))
	if kind != "" {
		endpoint += "?kind=" + url.QueryEscape(kind)
	}
	var resp []Result
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Solve builds and solves the server's scenario.
func (c *Client) Solve(ctx context.Context) (SolveResult, error) {
	var resp SolveResult
	err := c.do(ctx, http.MethodPost, "v0/solve", map[string]any{}, &resp)
	return resp, err
}

// ImportSolution checks an externally produced point against the scenario.
func (c *Client) ImportSolution(ctx context.Context, values map[string]float64) (SolveResult, error) {
	body := map[string]any{"values": values}
	var resp SolveResult
	err := c.do(ctx, http.MethodPost, "v0/solutions", body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
