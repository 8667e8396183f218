package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bsv-blockchain/go-sdk/script"

	"github.com/sirdeggen/bsv-overlay-skill/funding"
	"github.com/sirdeggen/bsv-overlay-skill/payments"
	"github.com/sirdeggen/bsv-overlay-skill/relay"
	"github.com/sirdeggen/bsv-overlay-skill/txbuilder"
)

// Message kinds. Anything else is unhandled and left unacknowledged for
// alternate processing.
const (
	KindPing           = "ping"
	KindServiceRequest = "service-request"
)

// Outcome is the terminal state of dispatching one inbound message
type Outcome int

const (
	Fulfilled Outcome = iota
	Rejected
	Unhandled
)

func (o Outcome) String() string {
	switch o {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	case Unhandled:
		return "unhandled"
	default:
		return "unknown"
	}
}

// Service is one priced capability an agent offers. Handle runs only
// after the request's signature and payment have both been verified.
type Service interface {
	// ID is the service name requests address
	ID() string

	// PriceSatoshis is the minimum accepted payment
	PriceSatoshis() uint64

	// Handle performs the service effect and optionally yields a payout
	Handle(ctx context.Context, input json.RawMessage) (*ServiceResult, error)
}

// ServiceResult is what a service hands back for the response
type ServiceResult struct {
	Output json.RawMessage
	Payout *Payout // optional outbound payment triggered by the service
}

// Payout is a payment a service owes on fulfillment
type Payout struct {
	LockingScript *script.Script
	Satoshis      uint64
}

// Sender delivers signed replies and acknowledges consumed messages.
// Satisfied by relay.Client.
type Sender interface {
	Send(ctx context.Context, to, msgType string, payload json.RawMessage) (string, error)
	Ack(ctx context.Context, identity string, messageIDs []string) error
}

// Broadcaster submits a raw transaction to the network. Satisfied by
// indexer.Client; optional, payouts stay valid unbroadcast because the
// bundle is self-certifying.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// requestPayload is the body of a service-request message. The bundle
// travels base64-encoded inside the JSON payload.
type requestPayload struct {
	Service  string          `json:"service"`
	Input    json.RawMessage `json:"input"`
	Satoshis uint64          `json:"satoshis"`
	Bundle   string          `json:"bundle"`
}

// responsePayload is the body of every reply this dispatcher sends
type responsePayload struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	TxID     string          `json:"txid,omitempty"`
	Satoshis uint64          `json:"satoshis,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Payout   string          `json:"payout,omitempty"` // base64 payout bundle
}

// Dispatcher routes inbound relay messages through the signature gate,
// the payment gate and the registered services. Every outcome except
// Unhandled is answered with a signed response and acknowledged.
type Dispatcher struct {
	identity     string
	recipientPKH []byte
	services     map[string]Service
	verifier     *payments.Verifier
	sender       Sender
	resolver     *funding.Resolver
	builder      *txbuilder.Builder
	broadcaster  Broadcaster
	logger       *slog.Logger
}

// Config wires a dispatcher's collaborators. Resolver, Builder and
// Broadcaster are only needed when a registered service yields payouts.
type Config struct {
	Identity     string // own identity, used for acknowledgements
	RecipientPKH []byte // own 20-byte key hash payments must pay to
	Verifier     *payments.Verifier
	Sender       Sender
	Resolver     *funding.Resolver
	Builder      *txbuilder.Builder
	Broadcaster  Broadcaster
}

// New creates a dispatcher with no services registered
func New(cfg *Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		identity:     cfg.Identity,
		recipientPKH: cfg.RecipientPKH,
		services:     make(map[string]Service),
		verifier:     cfg.Verifier,
		sender:       cfg.Sender,
		resolver:     cfg.Resolver,
		builder:      cfg.Builder,
		broadcaster:  cfg.Broadcaster,
		logger:       logger,
	}
}

// Register adds a service to the dispatch table
func (d *Dispatcher) Register(svc Service) {
	d.services[svc.ID()] = svc
}

// HandleMessage adapts Dispatch to the relay listener's handler shape.
// Dispatch outcomes are not errors: per-message failures are logged and
// isolated so the listener loop never dies.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *relay.Message) error {
	outcome := d.Dispatch(ctx, msg)
	d.logger.Info("message dispatched",
		"messageId", msg.ID, "type", msg.Type, "from", msg.From, "outcome", outcome.String())
	return nil
}

// Dispatch runs one inbound message to a terminal state
func (d *Dispatcher) Dispatch(ctx context.Context, msg *relay.Message) Outcome {
	switch msg.Type {
	case KindPing:
		return d.handlePing(ctx, msg)
	case KindServiceRequest:
		return d.handleRequest(ctx, msg)
	default:
		// Left unacknowledged for alternate processing
		return Unhandled
	}
}

// handlePing skips both gates and auto-replies
func (d *Dispatcher) handlePing(ctx context.Context, msg *relay.Message) Outcome {
	reply, _ := json.Marshal(&responsePayload{Accepted: true})
	if _, err := d.sender.Send(ctx, msg.From, "pong", reply); err != nil {
		d.logger.Error("failed to send pong", "to", msg.From, "error", err)
	}
	d.ack(ctx, msg)
	return Fulfilled
}

func (d *Dispatcher) handleRequest(ctx context.Context, msg *relay.Message) Outcome {
	// The signature covers msg.To, so a request captured for another
	// recipient still verifies; refuse anything not addressed to us
	if msg.To != d.identity {
		return d.reject(ctx, msg, "wrong recipient")
	}

	// Signature gate: monetary intent requires a verified sender
	if !relay.Verify(msg) {
		return d.reject(ctx, msg, "invalid-signature")
	}

	var req requestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return d.reject(ctx, msg, fmt.Sprintf("malformed request: %v", err))
	}

	svc, ok := d.services[req.Service]
	if !ok {
		return d.reject(ctx, msg, fmt.Sprintf("unknown service %q", req.Service))
	}

	bundle, err := base64.StdEncoding.DecodeString(req.Bundle)
	if err != nil {
		return d.reject(ctx, msg, payments.ReasonInvalidEncoding)
	}

	// Payment gate: no service effect before the payment is accepted
	// and durably recorded
	result, err := d.verifier.Verify(ctx, bundle, req.Satoshis, svc.PriceSatoshis(), d.recipientPKH, svc.ID(), msg.From)
	if err != nil {
		d.logger.Error("payment verification failed", "messageId", msg.ID, "error", err)
		return d.reject(ctx, msg, "internal error")
	}
	if !result.Accepted {
		return d.reject(ctx, msg, result.Reason)
	}

	svcResult, err := svc.Handle(ctx, req.Input)
	if err != nil {
		d.logger.Error("service failed", "service", svc.ID(), "messageId", msg.ID, "error", err)
		return d.reject(ctx, msg, fmt.Sprintf("service %q failed", svc.ID()))
	}

	resp := &responsePayload{
		Accepted: true,
		TxID:     result.TxID,
		Satoshis: result.Satoshis,
		Output:   svcResult.Output,
	}

	if svcResult.Payout != nil {
		payoutBundle, err := d.payOut(ctx, svcResult.Payout)
		if err != nil {
			d.logger.Error("payout failed", "service", svc.ID(), "error", err)
		} else {
			resp.Payout = base64.StdEncoding.EncodeToString(payoutBundle)
		}
	}

	d.respond(ctx, msg, resp)
	d.ack(ctx, msg)
	return Fulfilled
}

// payOut funds, builds and optionally broadcasts a service payout
func (d *Dispatcher) payOut(ctx context.Context, payout *Payout) ([]byte, error) {
	if d.resolver == nil || d.builder == nil {
		return nil, fmt.Errorf("dispatcher has no payout wiring")
	}

	input, err := d.resolver.Resolve(ctx, payout.Satoshis+d.builder.Policy().Fee(2))
	if err != nil {
		return nil, err
	}

	built, err := d.builder.Build(ctx, input, []txbuilder.Output{{
		LockingScript: payout.LockingScript,
		Satoshis:      payout.Satoshis,
	}})
	if err != nil {
		return nil, err
	}

	// Broadcast is best effort: the bundle verifies offline regardless
	if d.broadcaster != nil {
		if _, err := d.broadcaster.Broadcast(ctx, built.Tx.Hex()); err != nil {
			d.logger.Warn("payout broadcast failed", "txid", built.TxID, "error", err)
		}
	}
	return built.Bundle, nil
}

func (d *Dispatcher) reject(ctx context.Context, msg *relay.Message, reason string) Outcome {
	d.respond(ctx, msg, &responsePayload{Accepted: false, Reason: reason})
	d.ack(ctx, msg)
	return Rejected
}

func (d *Dispatcher) respond(ctx context.Context, msg *relay.Message, resp *responsePayload) {
	body, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to encode response", "messageId", msg.ID, "error", err)
		return
	}
	if _, err := d.sender.Send(ctx, msg.From, msg.Type+"-response", body); err != nil {
		d.logger.Error("failed to send response", "to", msg.From, "error", err)
	}
}

func (d *Dispatcher) ack(ctx context.Context, msg *relay.Message) {
	if err := d.sender.Ack(ctx, d.identity, []string{msg.ID}); err != nil {
		d.logger.Warn("failed to acknowledge message", "messageId", msg.ID, "error", err)
	}
}
