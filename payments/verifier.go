package payments

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/sirdeggen/bsv-overlay-skill/ledger"
)

// Rejection reasons. Rejection is a first-class result, never an error:
// the dispatcher turns each reason into a signed reply.
const (
	ReasonNoPayment        = "no payment"
	ReasonUnderpaid        = "underpaid"
	ReasonInvalidEncoding  = "invalid encoding"
	ReasonNoMatchingOutput = "no matching output"
	ReasonOutputUnderpaid  = "output underpaid"
)

// Result is the structured outcome of verifying one inbound proof bundle
type Result struct {
	Accepted bool
	Reason   string // set when rejected
	TxID     string
	Vout     uint32
	Satoshis uint64
}

// Verifier checks inbound proof bundles and durably records accepted
// payments. Acceptance is a pure function of the bundle's bytes plus the
// recipient's own key hash: no indexer call, no broadcast requirement.
// That is what allows offline, instant settlement between two agents -
// the bundle carries its own ancestry and proofs.
type Verifier struct {
	ledger ledger.Store
	logger *slog.Logger
}

// New creates a verifier recording accepted payments in the given ledger
func New(store ledger.Store, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{ledger: store, logger: logger}
}

// Verify locates a pay-to-key-hash output for recipientPKH in the bundle's
// subject transaction and checks it against the minimum. On acceptance the
// payment is appended to the ledger (idempotently, keyed by txid+vout);
// that append is the sole side effect. The returned error is reserved for
// ledger failures - every verification outcome, including rejection, is a
// Result.
func (v *Verifier) Verify(ctx context.Context, bundle []byte, claimedSatoshis, minimumSatoshis uint64, recipientPKH []byte, serviceID, counterparty string) (Result, error) {
	if len(bundle) == 0 {
		return rejected(ReasonNoPayment), nil
	}
	if claimedSatoshis < minimumSatoshis {
		return rejected(fmt.Sprintf("%s: claimed %d sat, minimum is %d", ReasonUnderpaid, claimedSatoshis, minimumSatoshis)), nil
	}

	tx, err := decodeBundle(bundle)
	if err != nil {
		v.logger.Debug("proof bundle failed to decode", "error", err)
		return rejected(ReasonInvalidEncoding), nil
	}

	vout, satoshis, found := findPayingOutput(tx, recipientPKH)
	if !found {
		return rejected(ReasonNoMatchingOutput), nil
	}
	if satoshis < minimumSatoshis {
		return rejected(fmt.Sprintf("%s: output pays %d sat, minimum is %d", ReasonOutputUnderpaid, satoshis, minimumSatoshis)), nil
	}

	txid := tx.TxID().String()
	rec := &ledger.Record{
		TxID:         txid,
		Vout:         vout,
		Satoshis:     satoshis,
		Bundle:       append([]byte(nil), bundle...),
		ServiceID:    serviceID,
		Counterparty: counterparty,
		ReceivedAt:   time.Now().UTC(),
	}
	if err := v.ledger.Append(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("payment accepted but ledger append failed: %w", err)
	}

	v.logger.Info("payment accepted",
		"txid", txid, "vout", vout, "satoshis", satoshis,
		"service", serviceID, "counterparty", counterparty)

	return Result{Accepted: true, TxID: txid, Vout: vout, Satoshis: satoshis}, nil
}

// decodeBundle tries the atomic framing first (verification pinned to one
// designated txid), then the plain chain-of-transactions framing where the
// newest transaction is the subject.
func decodeBundle(bundle []byte) (*transaction.Transaction, error) {
	if beef, subject, err := transaction.NewBeefFromAtomicBytes(bundle); err == nil {
		if tx := beef.FindAtomicTransaction(subject.String()); tx != nil {
			return tx, nil
		}
		return nil, fmt.Errorf("atomic subject %s not present in bundle", subject.String())
	}

	tx, err := transaction.NewTransactionFromBEEF(bundle)
	if err != nil {
		return nil, fmt.Errorf("bundle decodes as neither atomic nor chained: %w", err)
	}
	return tx, nil
}

// findPayingOutput scans tx's outputs for a standard pay-to-key-hash
// script whose 20-byte hash equals pkh
func findPayingOutput(tx *transaction.Transaction, pkh []byte) (vout uint32, satoshis uint64, found bool) {
	for i, out := range tx.Outputs {
		if out.LockingScript == nil {
			continue
		}
		if isP2PKHTo(out.LockingScript, pkh) {
			return uint32(i), out.Satoshis, true
		}
	}
	return 0, 0, false
}

// isP2PKHTo matches OP_DUP OP_HASH160 <20-byte hash> OP_EQUALVERIFY OP_CHECKSIG
func isP2PKHTo(s *script.Script, pkh []byte) bool {
	b := []byte(*s)
	return len(b) == 25 &&
		b[0] == script.OpDUP &&
		b[1] == script.OpHASH160 &&
		b[2] == 0x14 &&
		b[23] == script.OpEQUALVERIFY &&
		b[24] == script.OpCHECKSIG &&
		bytes.Equal(b[3:23], pkh)
}

func rejected(reason string) Result {
	return Result{Accepted: false, Reason: reason}
}
