// Package storage provides the key-value persistence layer used for
// broadcast settings and transfer history.
//
// Values are stored as JSON documents. Callers must tolerate an empty store
// on first run: Get leaves the destination untouched and reports found=false
// instead of erroring.
package storage

import (
	"context"
	"errors"
)

// ErrClosed indicates the store has been closed.
var ErrClosed = errors.New("storage: store is closed")

// Store is a minimal asynchronous-tolerant key-value store.
type Store interface {
	// Get unmarshals the value for key into dest. It returns found=false
	// (and no error) when the key does not exist, leaving dest unchanged.
	Get(ctx context.Context, key string, dest interface{}) (found bool, err error)

	// Set marshals value and persists it under key, replacing any previous
	// value.
	Set(ctx context.Context, key string, value interface{}) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}

// Well-known keys shared by the services that persist through a Store.
const (
	// KeyBroadcastSettings holds the persisted BroadcastSettings document.
	KeyBroadcastSettings = "broadcast_settings"
	// KeyTransferHistory holds the append-only transfer record list.
	KeyTransferHistory = "file_transfers"
	// KeyTrustedDevices holds the trusted device id list.
	KeyTrustedDevices = "trusted_devices"
)
