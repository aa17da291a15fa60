package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(ms int64) *fakeClock {
	return &fakeClock{now: time.UnixMilli(ms)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.now = time.UnixMilli(ms)
	c.mu.Unlock()
}

// mapStore is a minimal CounterStore without TTL handling or atomic updates.
// Each call is individually locked, so read-modify-write sequences race.
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.sets++
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *mapStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *mapStore) Expire(_ context.Context, key string, _ time.Duration) (bool, error) {
	return s.Exists(context.Background(), key)
}

func (s *mapStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := CompileGlob(pattern)
	var keys []string
	for k := range s.data {
		if g.Match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *mapStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// lockedStore adds an atomic Update to mapStore.
type lockedStore struct {
	*mapStore
	updateMu sync.Mutex
}

func (s *lockedStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	current, found, _ := s.Get(ctx, key)
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next, ttl)
}

var errBroken = errors.New("store is broken")

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errBroken }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBroken
}
func (failingStore) Delete(context.Context, string) (bool, error) { return false, errBroken }
func (failingStore) Exists(context.Context, string) (bool, error) { return false, errBroken }
func (failingStore) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, errBroken
}
func (failingStore) Keys(context.Context, string) ([]string, error) { return nil, errBroken }

// failingUpdater fails inside Update, as a durable store would on a transport error.
type failingUpdater struct {
	failingStore
}

func (failingUpdater) Update(context.Context, string, time.Duration, UpdateFunc) error {
	return errBroken
}

func mustPolicy(t interface{ Fatalf(string, ...any) }, window time.Duration, max int) Policy {
	p, err := NewPolicy("test", window, max)
	if err != nil {
		t.Fatalf("NewPolicy() error: %v", err)
	}
	return p
}
