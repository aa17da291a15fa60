package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable marks a connection-level failure of a counter store.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidRecord is returned when a stored counter record cannot be decoded.
	ErrInvalidRecord = errors.New("invalid counter record")
)

// CounterStore is the key-value contract the limiters count against.
//
// Implementations must be safe for concurrent use. TTLs are applied with
// one-second granularity; values are opaque to the store.
type CounterStore interface {
	// Get returns the value stored under key. found is false when the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key with the given time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire resets the time-to-live of an existing key. It reports false
	// when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Keys lists the keys matching a glob pattern in which only '*' is a
	// wildcard.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// UpdateFunc computes a new value from the current one. found is false when
// the key does not exist.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Updater is implemented by stores that can perform an atomic
// read-modify-write of a single key. Limiters use it when available and
// fall back to Get followed by Set otherwise.
type Updater interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// StoreMode identifies which backend is currently serving operations.
type StoreMode string

const (
	// ModeDurable means operations go to the networked store.
	ModeDurable StoreMode = "durable"

	// ModeEphemeral means operations go to the process-local store.
	ModeEphemeral StoreMode = "ephemeral"
)

// ModeReporter is implemented by stores that can route to more than one
// backend.
type ModeReporter interface {
	Mode() StoreMode
}

// StateReporter is implemented by stores that track connectivity to a
// durable backend.
type StateReporter interface {
	// StoreState names the connectivity state, for example "connected".
	StoreState() string
	// Degraded reports whether the durable backend has been abandoned.
	Degraded() bool
}

// ModeOf returns the mode of s. Stores that do not report a mode are
// treated as ephemeral.
func ModeOf(s CounterStore) StoreMode {
	if mr, ok := s.(ModeReporter); ok {
		return mr.Mode()
	}
	return ModeEphemeral
}

// ttlFor returns the record TTL for a window: the window rounded up to
// whole seconds.
func ttlFor(window time.Duration) time.Duration {
	return time.Duration(ceilSeconds(window)) * time.Second
}

// Update performs a read-modify-write on key, atomically when the store
// implements Updater.
func Update(ctx context.Context, s CounterStore, key string, ttl time.Duration, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, key, ttl, fn)
	}

	current, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next, ttl)
}
