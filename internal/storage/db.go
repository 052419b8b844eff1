// Package storage is the node's persistence adapter: a small KV contract
// that the chain keyspaces (blocks, block index, height map, metadata) and
// the UTXO set are laid out over, with a badger-backed store for disk and
// a map-backed one for tests.
package storage

import "errors"

// ErrNotFound is returned by Get when a key has no value. Callers branch
// with errors.Is instead of matching backend-specific message strings.
var ErrNotFound = errors.New("storage: key not found")

// DB is the keyspace-agnostic KV contract every backend implements.
type DB interface {
	// Get returns the value stored for key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach visits every key carrying the given prefix, in ascending
	// byte order of the full key. The key and value slices passed to fn
	// are owned by the iteration; copy them to retain past the call.
	// A non-nil error from fn stops the walk and is returned.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Syncer is implemented by backends that buffer writes. The chain's
// metadata commit flushes through it so a block application that reported
// success is actually on disk.
type Syncer interface {
	Sync() error
}
