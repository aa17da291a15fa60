// Package memory provides the process-local counter store.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// DefaultCleanupInterval is how often expired keys are swept.
const DefaultCleanupInterval = time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// CounterStore implements ratelimit.CounterStore in process memory.
// Thread-safe for concurrent access. Counts are local to one process, so
// every instance of the service enforces its own quota.
// Expired keys are hidden on read and removed by a background sweep.
type CounterStore struct {
	entries         map[string]entry
	mu              sync.RWMutex
	clock           ratelimit.Clock
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// Option configures a CounterStore.
type Option func(*CounterStore)

// WithClock sets the time source used for expiry. Defaults to time.Now.
func WithClock(c ratelimit.Clock) Option {
	return func(s *CounterStore) { s.clock = c }
}

// WithCleanupInterval sets how often the background sweep runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *CounterStore) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithLogger sets the logger used by the cleanup sweep.
func WithLogger(l *slog.Logger) Option {
	return func(s *CounterStore) { s.logger = l }
}

// NewCounterStore creates an empty in-memory counter store.
func NewCounterStore(opts ...Option) *CounterStore {
	s := &CounterStore{
		entries:         make(map[string]entry),
		clock:           time.Now,
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
		cleanupInterval: DefaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CounterStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock().Add(ttl)
}

// Get returns the value for key if present and unexpired.
func (s *CounterStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.clock()) {
		return nil, false, nil
	}
	return cloneBytes(e.value), true, nil
}

// Set stores value under key. A non-positive ttl stores without expiry.
func (s *CounterStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: cloneBytes(value), expiresAt: s.expiry(ttl)}
	return nil
}

// Delete removes key and reports whether an unexpired entry existed.
func (s *CounterStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	return !e.expired(s.clock()), nil
}

// Exists reports whether key is present and unexpired.
func (s *CounterStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return ok && !e.expired(s.clock()), nil
}

// Expire resets the TTL of an existing key.
func (s *CounterStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.clock()) {
		return false, nil
	}
	e.expiresAt = s.expiry(ttl)
	s.entries[key] = e
	return true, nil
}

// Keys returns the unexpired keys matching pattern, sorted.
func (s *CounterStore) Keys(_ context.Context, pattern string) ([]string, error) {
	g := ratelimit.CompileGlob(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	keys := make([]string, 0)
	for k, e := range s.entries {
		if !e.expired(now) && g.Match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Update applies fn to the current value of key under the store lock.
func (s *CounterStore) Update(_ context.Context, key string, ttl time.Duration, fn ratelimit.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	e, found := s.entries[key]
	if found && e.expired(s.clock()) {
		found = false
	}
	if found {
		current = e.value
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}
	s.entries[key] = entry{value: cloneBytes(next), expiresAt: s.expiry(ttl)}
	return nil
}

// Mode reports ModeEphemeral.
func (s *CounterStore) Mode() ratelimit.StoreMode {
	return ratelimit.ModeEphemeral
}

// StartCleanup starts the background sweep goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes expired entries.
func (s *CounterStore) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cleaned := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("counter store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(s.entries))
	}
	return cleaned
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of stored entries, expired ones included until
// the next sweep.
func (s *CounterStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Compile-time interface verification.
var (
	_ ratelimit.CounterStore = (*CounterStore)(nil)
	_ ratelimit.Updater      = (*CounterStore)(nil)
	_ ratelimit.ModeReporter = (*CounterStore)(nil)
)
