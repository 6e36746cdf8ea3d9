package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("not found")

// TTLStore is the key/value contract the protocol core needs from storage.
// Implementations must be safe for concurrent use; PutIfAbsent in particular
// must be atomic so that exactly one of several concurrent claimants for the
// same key succeeds.
type TTLStore interface {
	Put(key string, value string, ttl time.Duration)
	// PutIfAbsent stores the value only if the key is not already present.
	// Returns true if the value was stored, false if the key already existed.
	PutIfAbsent(key string, value string, ttl time.Duration) bool
	Get(key string) (string, error)
	Exists(key string) bool
	Delete(key string)
	Close()
}
