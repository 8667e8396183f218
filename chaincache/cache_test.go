package chaincache

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/sirdeggen/bsv-overlay-skill/statestore/memory"
)

func forgedPath(txid *chainhash.Hash, height uint32) *transaction.MerklePath {
	isTxid := true
	isDup := true
	return transaction.NewMerklePath(height, [][]*transaction.PathElement{{
		{Offset: 0, Hash: txid, Txid: &isTxid},
		{Offset: 1, Duplicate: &isDup},
	}})
}

// buildChain returns confirmed -> parent -> tip, each spending the
// previous transaction's first output
func buildChain(t *testing.T) (confirmed, parent, tip *transaction.Transaction) {
	t.Helper()

	priv, err := ec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	addr, err := script.NewAddressFromPublicKey(priv.PubKey(), true)
	if err != nil {
		t.Fatalf("NewAddressFromPublicKey failed: %v", err)
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		t.Fatalf("p2pkh.Lock failed: %v", err)
	}

	confirmed = transaction.NewTransaction()
	confirmed.AddOutput(&transaction.TransactionOutput{Satoshis: 1000, LockingScript: lock})
	confirmed.MerklePath = forgedPath(confirmed.TxID(), 800000)

	parent = transaction.NewTransaction()
	parent.AddInput(&transaction.TransactionInput{
		SourceTXID:       confirmed.TxID(),
		SourceTxOutIndex: 0,
		SequenceNumber:   0xffffffff,
	})
	parent.Inputs[0].SourceTransaction = confirmed
	parent.AddOutput(&transaction.TransactionOutput{Satoshis: 900, LockingScript: lock})

	tip = transaction.NewTransaction()
	tip.AddInput(&transaction.TransactionInput{
		SourceTXID:       parent.TxID(),
		SourceTxOutIndex: 0,
		SequenceNumber:   0xffffffff,
	})
	tip.Inputs[0].SourceTransaction = parent
	tip.AddOutput(&transaction.TransactionOutput{Satoshis: 800, LockingScript: lock})

	return confirmed, parent, tip
}

func TestSaveLoadReconstructRoundTrip(t *testing.T) {
	store := memory.New()
	cache := New(store, nil)
	ctx := context.Background()

	confirmed, parent, tip := buildChain(t)

	cache.Save(ctx, tip, 0, 800)

	frontier := cache.Load(ctx)
	if frontier == nil {
		t.Fatal("expected a frontier after Save")
	}
	if frontier.Vout != 0 || frontier.Satoshis != 800 {
		t.Errorf("frontier output mismatch: vout=%d sats=%d", frontier.Vout, frontier.Satoshis)
	}

	// Chain walk stops at the first proven ancestor
	if len(frontier.Ancestors) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(frontier.Ancestors))
	}
	if frontier.Ancestors[0].ProofHex != "" {
		t.Error("parent should have no proof")
	}
	if frontier.Ancestors[1].ProofHex == "" {
		t.Error("confirmed ancestor should carry its proof")
	}

	rebuilt, err := cache.Reconstruct(frontier)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	if !rebuilt.TxID().IsEqual(tip.TxID()) {
		t.Error("rebuilt tip txid mismatch")
	}

	rebuiltParent := rebuilt.Inputs[0].SourceTransaction
	if rebuiltParent == nil || !rebuiltParent.TxID().IsEqual(parent.TxID()) {
		t.Fatal("rebuilt parent linkage mismatch")
	}

	rebuiltConfirmed := rebuiltParent.Inputs[0].SourceTransaction
	if rebuiltConfirmed == nil || !rebuiltConfirmed.TxID().IsEqual(confirmed.TxID()) {
		t.Fatal("rebuilt confirmed ancestor linkage mismatch")
	}
	if rebuiltConfirmed.MerklePath == nil {
		t.Fatal("confirmed ancestor lost its merkle path")
	}
	if rebuiltConfirmed.MerklePath.BlockHeight != 800000 {
		t.Errorf("merkle path height mismatch: %d", rebuiltConfirmed.MerklePath.BlockHeight)
	}
}

func TestLoadCorruptTreatedAsAbsent(t *testing.T) {
	store := memory.New()
	cache := New(store, nil)
	ctx := context.Background()

	if err := store.Put(ctx, frontierKey, []byte("not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if frontier := cache.Load(ctx); frontier != nil {
		t.Error("corrupt frontier should load as absent")
	}
}

func TestClear(t *testing.T) {
	store := memory.New()
	cache := New(store, nil)
	ctx := context.Background()

	_, _, tip := buildChain(t)
	cache.Save(ctx, tip, 0, 800)

	cache.Clear(ctx)

	if frontier := cache.Load(ctx); frontier != nil {
		t.Error("frontier should be gone after Clear")
	}
}

func TestSaveOverwritesPriorFrontier(t *testing.T) {
	store := memory.New()
	cache := New(store, nil)
	ctx := context.Background()

	_, _, first := buildChain(t)
	cache.Save(ctx, first, 0, 800)

	_, _, second := buildChain(t)
	cache.Save(ctx, second, 0, 750)

	frontier := cache.Load(ctx)
	if frontier == nil {
		t.Fatal("expected a frontier")
	}
	if frontier.Satoshis != 750 {
		t.Errorf("expected the later frontier to win, got %d sats", frontier.Satoshis)
	}
}
