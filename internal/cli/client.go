// =============================================================================
// CLI HTTP CLIENT - READS STORED RUNS FROM A telegraph-bench SERVER
// =============================================================================
//
// WHAT IS THIS?
// A lightweight HTTP client for `telegraph-bench runs ... --server URL`, so
// results saved on a lab machine can be inspected from anywhere without
// copying the SQLite file around.
//
// HTTP ENDPOINTS USED:
//
//   GET    /healthz              Liveness
//   GET    /version              Server version
//   GET    /runs?limit=N         List runs, newest first
//   GET    /runs/{id}            Run header + lateness report
//   DELETE /runs/{id}            Delete a run
//   GET    /batches/{id}         Comparison of every engine in one batch
//
// SERVER RESOLUTION (highest to lowest):
//   1. --server flag
//   2. TELEGRAPH_SERVER environment variable
//   3. empty: commands read the local store instead
//
// =============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/report"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/store"
)

// EnvServer names the environment variable holding the server URL.
const EnvServer = "TELEGRAPH_SERVER"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the CLI HTTP client.
type ClientConfig struct {
	// ServerURL is the base URL of the server (e.g., "http://localhost:8080")
	ServerURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL: "http://localhost:8080",
		Timeout:   30 * time.Second,
	}
}

// ResolveServer picks the server URL from the flag, then the environment.
// An empty result means no server was requested.
func ResolveServer(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvServer)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for CLI operations.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new CLI HTTP client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// doRequest executes an HTTP request and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, result any) error {
	u, err := url.JoinPath(c.config.ServerURL, path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    errResp.Error,
			}
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// ErrorResponse is the error response format from the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// RUN OPERATIONS
// =============================================================================

// RunDetail is a stored run together with its lateness report.
type RunDetail struct {
	Run    store.Run         `json:"run" yaml:"run"`
	Report report.Comparison `json:"report" yaml:"report"`
}

// ListRuns returns stored runs, newest first. limit <= 0 means all.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp []store.Run
	if err := c.doRequest(ctx, http.MethodGet, "/runs", query, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRun returns one run and its report.
func (c *Client) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var resp RunDetail
	if err := c.doRequest(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRun removes a run.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/runs/"+url.PathEscape(id), nil, nil)
}

// GetBatch returns the comparison of every run sharing batchID.
func (c *Client) GetBatch(ctx context.Context, batchID string) ([]report.Comparison, error) {
	var resp []report.Comparison
	if err := c.doRequest(ctx, http.MethodGet, "/batches/"+url.PathEscape(batchID), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// =============================================================================
// SERVER OPERATIONS
// =============================================================================

// HealthResponse is the response from the liveness check.
type HealthResponse struct {
	Status    string `json:"status" yaml:"status"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Uptime    string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
}

// Health checks the server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VersionInfo pairs the local binary version with the server's.
type VersionInfo struct {
	ClientVersion string `json:"client_version" yaml:"client_version"`
	ServerVersion string `json:"server_version,omitempty" yaml:"server_version,omitempty"`
}

// ServerVersion asks the server for its version string.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}
