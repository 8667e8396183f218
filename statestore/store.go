package statestore

import (
	"context"
)

// Store defines a generic key-value store for durable engine state
// (the chain-cache frontier lives here). Keys are variable-length byte
// slices so callers can namespace freely.
type Store interface {
	// Put stores a key-value pair
	Put(ctx context.Context, key []byte, value []byte) error

	// Get retrieves a value by key
	// Returns nil if key doesn't exist
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Delete removes a key-value pair
	Delete(ctx context.Context, key []byte) error

	// Close releases any resources
	Close() error
}
