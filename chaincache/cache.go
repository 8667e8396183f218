package chaincache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/sirdeggen/bsv-overlay-skill/statestore"
)

// MaxAncestorDepth bounds how far back a frontier snapshot walks when no
// confirmed ancestor is found
const MaxAncestorDepth = 15

// frontierKey is the single slot the cache occupies in the state store
var frontierKey = []byte("chain/frontier")

// TransactionSnapshot is one transaction in a saved frontier: its raw hex
// plus, when confirmed, its merkle path hex
type TransactionSnapshot struct {
	RawHex   string `json:"rawtx"`
	ProofHex string `json:"proof,omitempty"`
}

// Frontier is the single cached spendable output together with the ancestor
// chain needed to prove it spendable without any indexer query.
// Ancestors are ordered child-to-parent and terminate at the first confirmed
// transaction (one carrying a proof) or at MaxAncestorDepth.
type Frontier struct {
	Tx        TransactionSnapshot   `json:"tx"`
	Vout      uint32                `json:"vout"`
	Satoshis  uint64                `json:"satoshis"`
	Ancestors []TransactionSnapshot `json:"ancestors"`
	SavedAt   time.Time             `json:"savedAt"`
}

// Cache persists at most one spendable frontier. It is the only local
// source of spendable value absent an indexer query, so every build that
// produces change must Save, and any operation that consumes the cached
// output without chaining must Clear.
//
// All mutation goes through a single mutex: the frontier is a read-modify-
// write resource and concurrent saves would otherwise be last-writer-wins.
type Cache struct {
	store  statestore.Store
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a frontier cache over the given store
func New(store statestore.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

// Save snapshots tx's output at vout as the new frontier, fully overwriting
// any prior frontier. The ancestor chain is walked through each
// transaction's first input up to the first proven ancestor.
//
// Save never fails: the frontier is a cache, not a source of truth, and a
// persistence error only costs an indexer round-trip later.
func (c *Cache) Save(ctx context.Context, tx *transaction.Transaction, vout uint32, satoshis uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frontier := &Frontier{
		Tx:       snapshot(tx),
		Vout:     vout,
		Satoshis: satoshis,
		SavedAt:  time.Now().UTC(),
	}

	ancestor := sourceOf(tx)
	for depth := 0; ancestor != nil && depth < MaxAncestorDepth; depth++ {
		snap := snapshot(ancestor)
		frontier.Ancestors = append(frontier.Ancestors, snap)
		if snap.ProofHex != "" {
			break // confirmed ancestor, chain is provable from here
		}
		ancestor = sourceOf(ancestor)
	}

	data, err := json.Marshal(frontier)
	if err != nil {
		c.logger.Warn("failed to encode frontier, skipping save", "error", err)
		return
	}

	if err := c.store.Put(ctx, frontierKey, data); err != nil {
		c.logger.Warn("failed to persist frontier, skipping save",
			"txid", tx.TxID().String(), "error", err)
	}
}

// Load reads the persisted frontier. Returns nil if absent; a corrupt
// record is treated as absent, not as an error.
func (c *Cache) Load(ctx context.Context) *Frontier {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.store.Get(ctx, frontierKey)
	if err != nil {
		c.logger.Warn("failed to read frontier", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	var frontier Frontier
	if err := json.Unmarshal(data, &frontier); err != nil {
		c.logger.Warn("discarding corrupt frontier", "error", err)
		return nil
	}
	if frontier.Tx.RawHex == "" {
		return nil
	}

	return &frontier
}

// Reconstruct rebuilds the in-memory linked transaction graph from a flat
// frontier snapshot: each raw hex is re-parsed, each stored merkle path is
// re-attached, and every transaction's first input is linked to its source.
// The result is equivalent to a graph assembled from live indexer queries,
// so downstream consumers need not know where their input came from.
func (c *Cache) Reconstruct(frontier *Frontier) (*transaction.Transaction, error) {
	if frontier == nil {
		return nil, fmt.Errorf("no frontier to reconstruct")
	}

	tip, err := parseSnapshot(frontier.Tx)
	if err != nil {
		return nil, fmt.Errorf("frontier tx: %w", err)
	}

	child := tip
	for i, snap := range frontier.Ancestors {
		parent, err := parseSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("ancestor %d: %w", i, err)
		}

		if len(child.Inputs) == 0 {
			return nil, fmt.Errorf("ancestor %d: child has no inputs to link", i)
		}
		in := child.Inputs[0]
		if in.SourceTXID != nil && !in.SourceTXID.IsEqual(parent.TxID()) {
			return nil, fmt.Errorf("ancestor %d: linkage mismatch, input spends %s but chain holds %s",
				i, in.SourceTXID.String(), parent.TxID().String())
		}
		in.SourceTransaction = parent

		child = parent
	}

	return tip, nil
}

// Clear deletes the persisted frontier (after a sweep or refund)
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, frontierKey); err != nil {
		c.logger.Warn("failed to clear frontier", "error", err)
	}
}

func snapshot(tx *transaction.Transaction) TransactionSnapshot {
	snap := TransactionSnapshot{RawHex: tx.Hex()}
	if tx.MerklePath != nil {
		snap.ProofHex = tx.MerklePath.Hex()
	}
	return snap
}

func parseSnapshot(snap TransactionSnapshot) (*transaction.Transaction, error) {
	tx, err := transaction.NewTransactionFromHex(snap.RawHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw tx: %w", err)
	}
	if snap.ProofHex != "" {
		proof, err := transaction.NewMerklePathFromHex(snap.ProofHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse merkle path: %w", err)
		}
		tx.MerklePath = proof
	}
	return tx, nil
}

// sourceOf returns the linked source of tx's first input, or nil
func sourceOf(tx *transaction.Transaction) *transaction.Transaction {
	if len(tx.Inputs) == 0 {
		return nil
	}
	return tx.Inputs[0].SourceTransaction
}
