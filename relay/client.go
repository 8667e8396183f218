package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/google/uuid"
)

// Config tunes a relay client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to a store-and-forward relay over HTTP. The relay holds
// messages until the recipient polls its inbox and acknowledges them.
type Client struct {
	baseURL string
	key     *ec.PrivateKey
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a relay client signing outbound messages with key
func NewClient(cfg *Config, key *ec.PrivateKey, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		key:     key,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Identity returns the client's own identity (compressed public key hex)
func (c *Client) Identity() string {
	return c.key.PubKey().ToDERHex()
}

// Send signs and submits a message, returning the message id assigned
// by this client
func (c *Client) Send(ctx context.Context, to, msgType string, payload json.RawMessage) (string, error) {
	msg := &Message{
		ID:      uuid.NewString(),
		To:      to,
		Type:    msgType,
		Payload: payload,
	}
	if err := Sign(msg, c.key); err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	if err := c.post(ctx, "/relay/send", body); err != nil {
		return "", err
	}

	c.logger.Debug("message sent", "to", to, "type", msgType, "messageId", msg.ID)
	return msg.ID, nil
}

// Inbox fetches the messages waiting for identity. Messages remain
// queued on the relay until acknowledged.
func (c *Client) Inbox(ctx context.Context, identity string) ([]*Message, error) {
	u := c.baseURL + "/relay/inbox?identity=" + url.QueryEscape(identity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("inbox returned %d: %s", resp.StatusCode, body)
	}

	var messages []*Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode inbox: %w", err)
	}
	return messages, nil
}

// Ack removes delivered messages from identity's queue
func (c *Client) Ack(ctx context.Context, identity string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"identity":   identity,
		"messageIds": messageIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to encode ack: %w", err)
	}
	return c.post(ctx, "/relay/ack", body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, respBody)
	}
	return nil
}
