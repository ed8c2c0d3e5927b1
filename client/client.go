// Package client is an HTTP implementation of execgraph.SnapshotProvider
// against the execgraph server API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meikuraledutech/execgraph"
)

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	APIKey     string
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:3000",
		Timeout: 30 * time.Second,
	}
}

// Option configures the client.
type Option func(*Config)

// WithBaseURL sets the server base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

// Client fetches run snapshots over HTTP.
type Client struct {
	config     *Config
	httpClient *http.Client
}

var _ execgraph.SnapshotProvider = (*Client)(nil)

// New creates a client with the given options.
func New(options ...Option) *Client {
	config := DefaultConfig()
	for _, option := range options {
		option(config)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{config: config, httpClient: httpClient}
}

// FetchSnapshot retrieves the current snapshot for a run.
// Returns execgraph.ErrRunNotFound when the server has no such run.
func (c *Client) FetchSnapshot(ctx context.Context, runID string) (*execgraph.Snapshot, error) {
	path := fmt.Sprintf("/runs/%s/snapshot", url.PathEscape(runID))

	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	var snap execgraph.Snapshot
	if err := c.handleResponse(resp, &snap); err != nil {
		return nil, err
	}

	return &snap, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

func (c *Client) handleResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return execgraph.ErrRunNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
