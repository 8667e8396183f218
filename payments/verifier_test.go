package payments

import (
	"context"
	"strings"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/sirdeggen/bsv-overlay-skill/ledger/memory"
)

type party struct {
	key  *ec.PrivateKey
	addr *script.Address
	lock *script.Script
}

func newParty(t *testing.T) *party {
	t.Helper()
	key, err := ec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	addr, err := script.NewAddressFromPublicKey(key.PubKey(), false)
	if err != nil {
		t.Fatalf("NewAddressFromPublicKey failed: %v", err)
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		t.Fatalf("p2pkh.Lock failed: %v", err)
	}
	return &party{key: key, addr: addr, lock: lock}
}

// paymentBundle builds a signed payment of satoshis from payer to the
// given locking script, funded by a forged-proof confirmed output, and
// serializes it as a self-contained bundle
func paymentBundle(t *testing.T, payer *party, to *script.Script, satoshis uint64) []byte {
	t.Helper()

	isTxid := true
	isDup := true

	fund := transaction.NewTransaction()
	fund.AddOutput(&transaction.TransactionOutput{Satoshis: satoshis + 200, LockingScript: payer.lock})
	fund.MerklePath = transaction.NewMerklePath(800000, [][]*transaction.PathElement{{
		{Offset: 0, Hash: fund.TxID(), Txid: &isTxid},
		{Offset: 1, Duplicate: &isDup},
	}})

	unlock, err := p2pkh.Unlock(payer.key, nil)
	if err != nil {
		t.Fatalf("p2pkh.Unlock failed: %v", err)
	}

	tx := transaction.NewTransaction()
	input := &transaction.TransactionInput{
		SourceTXID:       fund.TxID(),
		SourceTxOutIndex: 0,
		SequenceNumber:   0xffffffff,
	}
	input.SourceTransaction = fund
	input.UnlockingScriptTemplate = unlock
	tx.AddInput(input)
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: satoshis, LockingScript: to})

	if err := tx.Sign(); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	bundle, err := tx.AtomicBEEF(false)
	if err != nil {
		t.Fatalf("AtomicBEEF failed: %v", err)
	}
	return bundle
}

func TestVerifyAcceptsAtMinimum(t *testing.T) {
	ctx := context.Background()
	payer := newParty(t)
	recipient := newParty(t)
	store := memory.New()
	verifier := New(store, nil)

	bundle := paymentBundle(t, payer, recipient.lock, 50)

	result, err := verifier.Verify(ctx, bundle, 50, 50, recipient.addr.PublicKeyHash, "svc", "payer")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("exact minimum should be accepted, got reason %q", result.Reason)
	}
	if result.Satoshis != 50 {
		t.Errorf("expected 50 sat, got %d", result.Satoshis)
	}

	records, _ := store.List(ctx)
	if len(records) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(records))
	}
	if records[0].ServiceID != "svc" || records[0].Counterparty != "payer" {
		t.Errorf("ledger metadata mismatch: %+v", records[0])
	}
	if len(records[0].Bundle) == 0 {
		t.Error("original bundle should be preserved in the ledger")
	}
}

func TestVerifyRejectionReasons(t *testing.T) {
	ctx := context.Background()
	payer := newParty(t)
	recipient := newParty(t)
	other := newParty(t)
	verifier := New(memory.New(), nil)

	tests := []struct {
		name     string
		bundle   []byte
		claimed  uint64
		minimum  uint64
		pkh      []byte
		contains string
	}{
		{
			name:     "empty bundle",
			bundle:   nil,
			claimed:  50,
			minimum:  50,
			pkh:      recipient.addr.PublicKeyHash,
			contains: ReasonNoPayment,
		},
		{
			name:     "claim below minimum",
			bundle:   paymentBundle(t, payer, recipient.lock, 49),
			claimed:  49,
			minimum:  50,
			pkh:      recipient.addr.PublicKeyHash,
			contains: ReasonUnderpaid,
		},
		{
			name:     "garbage encoding",
			bundle:   []byte{0xde, 0xad, 0xbe, 0xef},
			claimed:  50,
			minimum:  50,
			pkh:      recipient.addr.PublicKeyHash,
			contains: ReasonInvalidEncoding,
		},
		{
			name:     "paid to someone else",
			bundle:   paymentBundle(t, payer, other.lock, 50),
			claimed:  50,
			minimum:  50,
			pkh:      recipient.addr.PublicKeyHash,
			contains: ReasonNoMatchingOutput,
		},
		{
			name:     "output below minimum",
			bundle:   paymentBundle(t, payer, recipient.lock, 49),
			claimed:  50,
			minimum:  50,
			pkh:      recipient.addr.PublicKeyHash,
			contains: ReasonOutputUnderpaid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := verifier.Verify(ctx, tc.bundle, tc.claimed, tc.minimum, tc.pkh, "svc", "payer")
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if result.Accepted {
				t.Fatal("expected rejection")
			}
			if !strings.Contains(result.Reason, tc.contains) {
				t.Errorf("reason %q should contain %q", result.Reason, tc.contains)
			}
		})
	}
}

func TestVerifyIdempotent(t *testing.T) {
	ctx := context.Background()
	payer := newParty(t)
	recipient := newParty(t)
	store := memory.New()
	verifier := New(store, nil)

	bundle := paymentBundle(t, payer, recipient.lock, 100)

	for i := 0; i < 2; i++ {
		result, err := verifier.Verify(ctx, bundle, 100, 50, recipient.addr.PublicKeyHash, "svc", "payer")
		if err != nil {
			t.Fatalf("Verify #%d failed: %v", i+1, err)
		}
		if !result.Accepted {
			t.Fatalf("Verify #%d rejected: %q", i+1, result.Reason)
		}
	}

	records, _ := store.List(ctx)
	if len(records) != 1 {
		t.Errorf("duplicate verification should not add ledger entries, got %d", len(records))
	}
}
