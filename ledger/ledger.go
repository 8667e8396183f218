package ledger

import (
	"context"
	"time"
)

// Record is one verified inbound payment. Records are the durable
// proof-of-credit, independent of wallet internals and of whether the
// paying transaction was ever broadcast: the stored bundle carries its own
// ancestry, so the credit can be re-proven offline at any time.
type Record struct {
	TxID         string    // hex txid of the paying transaction
	Vout         uint32    // index of the paying output
	Satoshis     uint64    // amount received
	Bundle       []byte    // original proof bundle, verbatim
	ServiceID    string    // service the payment was for
	Counterparty string    // payer's identity public key (hex)
	ReceivedAt   time.Time // when the payment was accepted
}

// Store is an append-only ledger of received payments. Entries are never
// mutated or deleted; re-appending an existing (txid, vout) is a no-op so
// verification stays idempotent.
type Store interface {
	// Append records a verified payment
	Append(ctx context.Context, rec *Record) error

	// Exists reports whether a payment output has already been recorded
	Exists(ctx context.Context, txid string, vout uint32) (bool, error)

	// List returns all recorded payments in insertion order
	List(ctx context.Context) ([]*Record, error)

	// Close releases any resources
	Close() error
}
