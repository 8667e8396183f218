package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/sirdeggen/bsv-overlay-skill/chaincache"
	"github.com/sirdeggen/bsv-overlay-skill/funding"
)

// ErrSigning indicates a signing failure. Never retried: it means a
// corrupted key or malformed input, not a transient condition.
var ErrSigning = errors.New("signing failed")

// Output is one requested payment output
type Output struct {
	LockingScript *script.Script
	Satoshis      uint64
}

// Result is a successfully built payment: the signed transaction, its
// self-contained proof bundle, and the change retained (zero when dust was
// dropped into the fee)
type Result struct {
	Tx             *transaction.Transaction
	TxID           string
	Bundle         []byte
	ChangeSatoshis uint64
}

// Builder assembles, signs and serializes minimal-ancestry payments from a
// resolved funding input. Every successful build that produces change
// writes the change output back as the new cached frontier, which is what
// lets the next payment chain without a network round-trip.
type Builder struct {
	key    *ec.PrivateKey
	addr   *script.Address
	policy FeePolicy
	cache  *chaincache.Cache
	logger *slog.Logger
}

// New creates a builder paying change back to the owning key's address
func New(key *ec.PrivateKey, mainnet bool, policy FeePolicy, cache *chaincache.Cache, logger *slog.Logger) (*Builder, error) {
	addr, err := script.NewAddressFromPublicKey(key.PubKey(), mainnet)
	if err != nil {
		return nil, fmt.Errorf("failed to derive change address: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{key: key, addr: addr, policy: policy, cache: cache, logger: logger}, nil
}

// Policy returns the builder's fee policy, for callers sizing a funding
// request
func (b *Builder) Policy() FeePolicy { return b.policy }

// Address returns the owning key's address
func (b *Builder) Address() *script.Address { return b.addr }

// Build spends the resolved input into the requested outputs, appending a
// change output when the remainder clears the dust threshold. The returned
// bundle embeds the input's full ancestor chain so a recipient with no
// chain access can verify the payment offline.
func (b *Builder) Build(ctx context.Context, in *funding.Input, outputs []Output) (*Result, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no outputs requested")
	}

	var total uint64
	for _, out := range outputs {
		total += out.Satoshis
	}

	// Reserve a change slot in the size estimate; if change ends up below
	// dust the overestimate is donated to the fee along with it
	fee := b.policy.Fee(len(outputs) + 1)
	if in.Satoshis < total+fee {
		return nil, fmt.Errorf("input holds %d sat, need %d plus %d fee", in.Satoshis, total, fee)
	}

	unlock, err := p2pkh.Unlock(b.key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build unlocking template: %w", err)
	}

	tx := transaction.NewTransaction()
	input := &transaction.TransactionInput{
		SourceTXID:       in.Tx.TxID(),
		SourceTxOutIndex: in.Vout,
		SequenceNumber:   0xffffffff,
	}
	input.SourceTransaction = in.Tx
	input.UnlockingScriptTemplate = unlock
	tx.AddInput(input)

	for _, out := range outputs {
		tx.AddOutput(&transaction.TransactionOutput{
			Satoshis:      out.Satoshis,
			LockingScript: out.LockingScript,
		})
	}

	change := in.Satoshis - total - fee
	if change >= DustThreshold {
		lock, err := p2pkh.Lock(b.addr)
		if err != nil {
			return nil, fmt.Errorf("failed to build change script: %w", err)
		}
		tx.AddOutput(&transaction.TransactionOutput{
			Satoshis:      change,
			LockingScript: lock,
			Change:        true,
		})
	} else {
		change = 0
	}

	if err := tx.Sign(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	// Partial is allowed: a chain that never reached a proven ancestor
	// still serializes, it just can't be SPV-verified by the recipient
	bundle, err := tx.AtomicBEEF(true)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize proof bundle: %w", err)
	}

	txid := tx.TxID().String()
	if change > 0 {
		b.cache.Save(ctx, tx, uint32(len(tx.Outputs)-1), change)
	}

	b.logger.Info("payment built",
		"txid", txid, "outputs", len(outputs), "fee", fee, "change", change)

	return &Result{
		Tx:             tx,
		TxID:           txid,
		Bundle:         bundle,
		ChangeSatoshis: change,
	}, nil
}

// Sweep spends the entire resolved input to a single destination with no
// change, then clears the cached frontier: the cached output is fully
// consumed by a non-chained operation.
func (b *Builder) Sweep(ctx context.Context, in *funding.Input, to *script.Script) (*Result, error) {
	fee := b.policy.Fee(1)
	if in.Satoshis <= fee {
		return nil, fmt.Errorf("input holds %d sat, not enough to cover %d fee", in.Satoshis, fee)
	}

	unlock, err := p2pkh.Unlock(b.key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build unlocking template: %w", err)
	}

	tx := transaction.NewTransaction()
	input := &transaction.TransactionInput{
		SourceTXID:       in.Tx.TxID(),
		SourceTxOutIndex: in.Vout,
		SequenceNumber:   0xffffffff,
	}
	input.SourceTransaction = in.Tx
	input.UnlockingScriptTemplate = unlock
	tx.AddInput(input)

	tx.AddOutput(&transaction.TransactionOutput{
		Satoshis:      in.Satoshis - fee,
		LockingScript: to,
	})

	if err := tx.Sign(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	bundle, err := tx.AtomicBEEF(true)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize proof bundle: %w", err)
	}

	b.cache.Clear(ctx)

	txid := tx.TxID().String()
	b.logger.Info("sweep built", "txid", txid, "satoshis", in.Satoshis-fee, "fee", fee)

	return &Result{Tx: tx, TxID: txid, Bundle: bundle}, nil
}
