package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Handler processes one inbound message. Handlers run strictly
// sequentially: the next message is not read until the current handler
// returns, which keeps the single chain frontier race-free.
type Handler func(ctx context.Context, msg *Message) error

// Listen subscribes to the relay's websocket feed for the client's own
// identity and dispatches each message to handler. Dropped connections
// are redialed with exponential backoff; the backoff resets after every
// successful connect. Listen blocks until ctx is cancelled.
func (c *Client) Listen(ctx context.Context, handler Handler) error {
	wsURL, err := c.subscribeURL()
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			wait := bo.NextBackOff()
			c.logger.Warn("relay dial failed", "error", err, "retryIn", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		bo.Reset()
		c.logger.Info("listening on relay", "identity", c.Identity())

		err = c.readLoop(ctx, conn, handler)
		conn.Close()
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("relay connection lost", "error", err)
	}
}

// readLoop pumps messages off one connection until it breaks or ctx is
// cancelled. A goroutine watches ctx and closes the connection to
// unblock the blocking read.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read failed: %w", err)
		}

		msg, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("discarding unparseable relay frame", "error", err)
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("handler failed", "messageId", msg.ID, "type", msg.Type, "error", err)
		}
	}
}

// decodeFrame unwraps one subscription frame. The relay delivers
// {type:"message", message: <signed message>} envelopes; a bare message
// frame is tolerated for relays that skip the wrapper.
func decodeFrame(data []byte) (*Message, error) {
	var frame struct {
		Type    string          `json:"type"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}

	var msg Message
	if len(frame.Message) > 0 {
		if err := json.Unmarshal(frame.Message, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) subscribeURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/relay/subscribe"
	u.RawQuery = "identity=" + url.QueryEscape(c.Identity())
	return u.String(), nil
}
