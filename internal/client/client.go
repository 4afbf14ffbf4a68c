// Package client talks to a running reachprobe server over its JSON API.
//
// A Client is stateless. Logging in returns a Session that carries the
// bearer token explicitly, so several identities can share one Client and
// nothing is kept in process-global state.
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
	"strconv"
	"strings"
	"time"

	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// DefaultTimeout bounds every API call. Server-side checks wait for the
// remote probe, so it sits above the probe's own 8s deadline.
const DefaultTimeout = 15 * time.Second

// ErrLoggedOut is returned by Session methods after Logout.
var ErrLoggedOut = errors.New("session logged out")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is a reachprobe API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// CheckRequest is the body of a server-side check.
type CheckRequest struct {
	URL         string `json:"url"`
	Method      string `json:"method,omitempty"`
	Payload     string `json:"payload,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// CheckResult is the server's verdict for a CheckRequest.
type CheckResult struct {
	Status     probe.Status `json:"status"`
	HTTPStatus int          `json:"httpStatus,omitempty"`
	LatencyMs  float64      `json:"latencyMs"`
	Error      string       `json:"error,omitempty"`
	URL        string       `json:"url"`
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/api/health", "", nil, nil)
}

// ServerCheck asks the server to probe req.URL from its own network position.
// Nothing is persisted.
func (c *Client) ServerCheck(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/server-check", "", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, readAPIError(resp)
	}
	var res CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decoding check result: %w", err)
	}
	return &res, nil
}

// History returns stored scheduler observations, newest first.
func (c *Client) History(ctx context.Context, f storage.HistoryFilter) ([]storage.HistoryEntry, error) {
	var entries []storage.HistoryEntry
	if err := c.call(ctx, http.MethodGet, "/api/history"+filterQuery(f), "", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats aggregates the same window History would return.
func (c *Client) Stats(ctx context.Context, f storage.HistoryFilter) (*storage.HistoryStats, error) {
	var s storage.HistoryStats
	if err := c.call(ctx, http.MethodGet, "/api/history/stats"+filterQuery(f), "", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Summary returns the scheduler's last run and interval.
func (c *Client) Summary(ctx context.Context) (*scheduler.Status, error) {
	var s scheduler.Status
	if err := c.call(ctx, http.MethodGet, "/api/history/summary", "", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Apps lists applications with their endpoints.
func (c *Client) Apps(ctx context.Context) ([]storage.Application, error) {
	var apps []storage.Application
	if err := c.call(ctx, http.MethodGet, "/api/apps", "", nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// Categories lists categories with their site targets.
func (c *Client) Categories(ctx context.Context) ([]storage.Category, error) {
	var cats []storage.Category
	if err := c.call(ctx, http.MethodGet, "/api/categories", "", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func filterQuery(f storage.HistoryFilter) string {
	q := url.Values{}
	if f.ApplicationID != 0 {
		q.Set("applicationId", strconv.FormatInt(f.ApplicationID, 10))
	}
	if f.EndpointID != 0 {
		q.Set("endpointId", strconv.FormatInt(f.EndpointID, 10))
	}
	if f.Limit != 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// call performs an enveloped request and decodes data into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path, token string, body, out any) error {
	resp, err := c.do(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	if env.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding %s %s data: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && env.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
}
