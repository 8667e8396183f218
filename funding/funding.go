package funding

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Network names, matching the explorer's network path segment
const (
	NetworkMain = "main"
	NetworkTest = "test"
)

var (
	// ErrInsufficientFunds is returned when every funding tier has been
	// exhausted without producing a spendable input
	ErrInsufficientFunds = errors.New("insufficient funds: all funding tiers exhausted")

	// ErrSyntheticDisallowed is the safety refusal of the synthetic tier on
	// a production network
	ErrSyntheticDisallowed = errors.New("synthetic funding is disallowed on this network")
)

// Input is a resolved spendable input: a transaction (with its ancestry
// linked through SourceTransaction references and a merkle path attached at
// the first confirmed ancestor) plus the output being spent.
type Input struct {
	Tx       *transaction.Transaction
	Vout     uint32
	Satoshis uint64
}

// Tier is one strategy in the ordered funding-resolution sequence.
// Resolve returns (nil, nil) when the tier is simply unavailable (nothing
// cached, no wallet configured); an error marks an attempt that failed.
type Tier interface {
	// Name identifies the tier in logs
	Name() string

	// Resolve attempts to produce an input covering the requested amount
	// (payment plus fee)
	Resolve(ctx context.Context, satoshis uint64) (*Input, error)
}

// Wallet is the external wallet collaborator. Its key derivation and
// output selection are out of scope here; it only has to yield a spendable
// input covering the requested amount.
type Wallet interface {
	FundInput(ctx context.Context, satoshis uint64) (*Input, error)
}

// Resolver runs an ordered list of funding tiers, first success wins.
// A tier's failure is non-fatal: it is logged and the next tier is tried.
// Only exhaustion of every tier surfaces as ErrInsufficientFunds; the
// synthetic tier's safety refusal is fatal by design and short-circuits.
type Resolver struct {
	tiers  []Tier
	logger *slog.Logger
}

// NewResolver creates a resolver over the given tiers, tried in order
func NewResolver(logger *slog.Logger, tiers ...Tier) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tiers: tiers, logger: logger}
}

// Resolve finds a spendable input covering satoshis (amount plus fee)
func (r *Resolver) Resolve(ctx context.Context, satoshis uint64) (*Input, error) {
	for _, tier := range r.tiers {
		input, err := tier.Resolve(ctx, satoshis)
		if err != nil {
			if errors.Is(err, ErrSyntheticDisallowed) {
				return nil, err
			}
			r.logger.Warn("funding tier failed, trying next",
				"tier", tier.Name(), "error", err)
			continue
		}
		if input == nil {
			r.logger.Debug("funding tier unavailable", "tier", tier.Name())
			continue
		}

		r.logger.Info("funding resolved",
			"tier", tier.Name(),
			"txid", input.Tx.TxID().String(),
			"vout", input.Vout,
			"satoshis", input.Satoshis)
		return input, nil
	}

	return nil, ErrInsufficientFunds
}
