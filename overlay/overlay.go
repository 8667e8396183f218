package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config tunes an overlay client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client submits proof bundles to an overlay network and queries its
// lookup services. The overlay is a trusted collaborator: submission
// failures are advisory, the bundle stays valid either way.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates an overlay client
func New(cfg *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Submit posts a proof bundle under the given topics. Topics travel in
// the X-Topics header as a JSON array; the bundle is the raw body.
func (c *Client) Submit(ctx context.Context, bundle []byte, topics []string) ([]byte, error) {
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode topics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(bundle))
	if err != nil {
		return nil, fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Topics", string(topicsJSON))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("submit returned %d: %s", resp.StatusCode, body)
	}

	c.logger.Debug("bundle submitted to overlay", "topics", topics, "bytes", len(bundle))
	return body, nil
}

// Lookup queries an overlay lookup service
func (c *Client) Lookup(ctx context.Context, service string, query json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"service": service,
		"query":   query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup returned %d: %s", resp.StatusCode, data)
	}
	return data, nil
}
