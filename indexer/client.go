package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultCacheSize = 256

	// retry policy for rate-limit and server-error responses
	maxRetries      = 2 // 3 attempts total
	initialInterval = time.Second
	maxInterval     = 8 * time.Second
)

// ErrNotFound indicates the explorer has no record of the requested entity
var ErrNotFound = errors.New("not found")

// Config holds configuration for the explorer client
type Config struct {
	BaseURL   string        // e.g. https://api.whatsonchain.com/v1/bsv/main
	Timeout   time.Duration // per-request timeout, default 20s
	CacheSize int           // raw transaction LRU size, default 256
}

// Client talks to a block explorer over HTTP. Responses are trusted per the
// SPV model: block heights and merkle nodes are taken as reported.
//
// Rate-limit (429) and server-error (5xx) responses are retried with capped
// exponential backoff; everything else surfaces immediately.
type Client struct {
	baseURL string
	http    *http.Client
	txCache *lru.Cache[string, []byte] // txid -> raw tx bytes
	logger  *slog.Logger
}

// New creates a new explorer client
func New(config *Config, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	cacheSize := config.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	txCache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tx cache: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		txCache: txCache,
		logger:  logger,
	}, nil
}

// Unspent fetches the unspent outputs for an address
func (c *Client) Unspent(ctx context.Context, address string) ([]*UnspentOutput, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("address/%s/unspent", address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unspent outputs: %w", err)
	}

	var utxos []*UnspentOutput
	if err := json.Unmarshal(data, &utxos); err != nil {
		return nil, fmt.Errorf("failed to parse unspent outputs: %w", err)
	}
	return utxos, nil
}

// Transaction fetches metadata for a transaction
func (c *Client) Transaction(ctx context.Context, txid string) (*TransactionDetail, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("tx/%s", txid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tx %s: %w", txid, err)
	}

	var detail TransactionDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse tx %s: %w", txid, err)
	}
	return &detail, nil
}

// RawTransaction fetches and parses a transaction's raw bytes. Results are
// cached: ancestry walks touch the same parents repeatedly.
func (c *Client) RawTransaction(ctx context.Context, txid string) (*transaction.Transaction, error) {
	if raw, ok := c.txCache.Get(txid); ok {
		return transaction.NewTransactionFromBytes(raw)
	}

	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("tx/%s/hex", txid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch raw tx %s: %w", txid, err)
	}

	tx, err := transaction.NewTransactionFromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw tx %s: %w", txid, err)
	}

	c.txCache.Add(txid, tx.Bytes())
	return tx, nil
}

// Proof fetches the compact merkle proof for a confirmed transaction
func (c *Client) Proof(ctx context.Context, txid string) (*CompactProof, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("tx/%s/proof/tsc", txid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proof for %s: %w", txid, err)
	}

	var proofs []*CompactProof
	if err := json.Unmarshal(data, &proofs); err != nil {
		return nil, fmt.Errorf("failed to parse proof for %s: %w", txid, err)
	}
	if len(proofs) == 0 {
		return nil, fmt.Errorf("proof for %s: %w", txid, ErrNotFound)
	}
	return proofs[0], nil
}

// Broadcast submits a raw transaction and returns the txid reported by the
// explorer
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	body, err := json.Marshal(map[string]string{"txhex": rawHex})
	if err != nil {
		return "", fmt.Errorf("failed to encode broadcast request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "tx/raw", body)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast tx: %w", err)
	}

	return strings.Trim(strings.TrimSpace(string(data)), `"`), nil
}

// do performs one HTTP call with the retry policy applied
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + "/" + path

	var out []byte
	operation := func() error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err // transport errors and timeouts are retryable
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			out = data
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.Warn("indexer request will be retried",
				"url", url, "status", resp.StatusCode)
			return fmt.Errorf("indexer returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}
