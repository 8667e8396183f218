package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirdeggen/bsv-overlay-skill/ledger"
)

// Store is an in-memory implementation of ledger.Store
// Suitable for testing and development
type Store struct {
	mu      sync.Mutex
	records []*ledger.Record
	seen    map[string]bool
}

// New creates a new in-memory payment ledger
func New() *Store {
	return &Store{seen: make(map[string]bool)}
}

func key(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// Append records a verified payment, ignoring duplicates
func (s *Store) Append(ctx context.Context, rec *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rec.TxID, rec.Vout)
	if s.seen[k] {
		return nil
	}
	s.seen[k] = true

	clone := *rec
	s.records = append(s.records, &clone)
	return nil
}

// Exists reports whether a payment output has already been recorded
func (s *Store) Exists(ctx context.Context, txid string, vout uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seen[key(txid, vout)], nil
}

// List returns all recorded payments in insertion order
func (s *Store) List(ctx context.Context) ([]*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ledger.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Close releases any resources
func (s *Store) Close() error {
	return nil
}
