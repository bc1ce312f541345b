// Package configstore provides the key/value configuration store consulted
// on every request for server configs and the global auth fallback record.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrStoreUnavailable wraps transient backend failures; callers map it
	// to an internal server error, never to "not configured".
	ErrStoreUnavailable = errors.New("config store unavailable")
)

// Store is a read-mostly key/value store of JSON configuration records.
// Get returns the raw record and whether the key exists; configurations are
// read fresh on every request, so implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, key string, config json.RawMessage) error
	Close() error
}
