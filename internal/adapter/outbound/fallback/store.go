// Package fallback provides the counter store that routes to a durable
// backend while it is reachable and to a process-local one after it is not.
package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// State is the connectivity state of the durable backend.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// DefaultConnectTimeout bounds the initial connection attempt.
const DefaultConnectTimeout = 5 * time.Second

// Durable is a counter store that must be connected before use.
type Durable interface {
	ratelimit.CounterStore
	Connect(ctx context.Context) error
}

// Store implements ratelimit.CounterStore by delegating to a durable store
// until a connection-level failure is observed, then permanently to an
// ephemeral store. Degradation is logged once and never reversed.
//
// Operation-level failures from the durable store (for example a command
// applied to a key of the wrong type) are returned to the caller unchanged.
type Store struct {
	durable   Durable
	ephemeral ratelimit.CounterStore

	state       atomic.Int32
	connectMu   sync.Mutex
	degradeOnce sync.Once

	logger         *slog.Logger
	connectTimeout time.Duration
	onDegrade      func()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithConnectTimeout bounds the first connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithDegradeHook registers a function called once when the store degrades.
func WithDegradeHook(fn func()) Option {
	return func(s *Store) { s.onDegrade = fn }
}

// New creates a fallback store. A nil durable store selects ephemeral mode
// from the start.
func New(durable Durable, ephemeral ratelimit.CounterStore, opts ...Option) *Store {
	s := &Store{
		durable:        durable,
		ephemeral:      ephemeral,
		logger:         slog.Default(),
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if durable == nil {
		s.state.Store(int32(StateDegraded))
		s.degradeOnce.Do(func() {}) // nothing to report later
		s.logger.Info("no durable counter store configured, using in-memory store only")
	}
	return s
}

// State returns the current connectivity state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// StoreState implements ratelimit.StateReporter.
func (s *Store) StoreState() string {
	return s.State().String()
}

// Degraded implements ratelimit.StateReporter.
func (s *Store) Degraded() bool {
	return s.State() == StateDegraded
}

// Mode reports the backend that serves operations. Before the first
// connection attempt completes the store reports durable.
func (s *Store) Mode() ratelimit.StoreMode {
	if s.State() == StateDegraded {
		return ratelimit.ModeEphemeral
	}
	return ratelimit.ModeDurable
}

// Connect attempts the durable connection if it has not been tried yet.
// A failure degrades the store; Connect itself never fails.
func (s *Store) Connect(ctx context.Context) {
	s.backend(ctx)
}

// Start starts background maintenance of the ephemeral store and makes the
// initial connection attempt.
func (s *Store) Start(ctx context.Context) {
	if c, ok := s.ephemeral.(interface{ StartCleanup(context.Context) }); ok {
		c.StartCleanup(ctx)
	}
	s.Connect(ctx)
}

// Close stops the ephemeral store's maintenance and closes the durable one.
func (s *Store) Close() error {
	if st, ok := s.ephemeral.(interface{ Stop() }); ok {
		st.Stop()
	}
	if c, ok := s.durable.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// backend returns the store that should serve the next operation,
// connecting first when needed.
func (s *Store) backend(ctx context.Context) ratelimit.CounterStore {
	switch s.State() {
	case StateConnected:
		return s.durable
	case StateDegraded:
		return s.ephemeral
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	// Another caller may have finished connecting while we waited.
	switch s.State() {
	case StateConnected:
		return s.durable
	case StateDegraded:
		return s.ephemeral
	}

	s.state.Store(int32(StateConnecting))
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.connectTimeout)
	defer cancel()

	if err := s.durable.Connect(cctx); err != nil {
		s.degrade(err)
		return s.ephemeral
	}
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))
	s.logger.Info("connected to durable counter store")
	return s.durable
}

// degrade switches permanently to the ephemeral store.
func (s *Store) degrade(cause error) {
	s.state.Store(int32(StateDegraded))
	s.degradeOnce.Do(func() {
		s.logger.Warn("durable counter store unavailable, falling back to in-memory store",
			"error", cause,
		)
		if s.onDegrade != nil {
			s.onDegrade()
		}
	})
}

// run executes op against the current backend. A connection failure on the
// durable store degrades and retries op once on the ephemeral store.
func run[T any](ctx context.Context, s *Store, op func(ratelimit.CounterStore) (T, error)) (T, error) {
	b := s.backend(ctx)
	v, err := op(b)
	if err != nil && b == s.durable && errors.Is(err, ratelimit.ErrStoreUnavailable) {
		s.degrade(err)
		return op(s.ephemeral)
	}
	return v, err
}

// Get implements ratelimit.CounterStore.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type result struct {
		value []byte
		found bool
	}
	r, err := run(ctx, s, func(b ratelimit.CounterStore) (result, error) {
		v, found, err := b.Get(ctx, key)
		return result{v, found}, err
	})
	return r.value, r.found, err
}

// Set implements ratelimit.CounterStore.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := run(ctx, s, func(b ratelimit.CounterStore) (struct{}, error) {
		return struct{}{}, b.Set(ctx, key, value, ttl)
	})
	return err
}

// Delete implements ratelimit.CounterStore.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return run(ctx, s, func(b ratelimit.CounterStore) (bool, error) {
		return b.Delete(ctx, key)
	})
}

// Exists implements ratelimit.CounterStore.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return run(ctx, s, func(b ratelimit.CounterStore) (bool, error) {
		return b.Exists(ctx, key)
	})
}

// Expire implements ratelimit.CounterStore.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return run(ctx, s, func(b ratelimit.CounterStore) (bool, error) {
		return b.Expire(ctx, key, ttl)
	})
}

// Keys implements ratelimit.CounterStore.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return run(ctx, s, func(b ratelimit.CounterStore) ([]string, error) {
		return b.Keys(ctx, pattern)
	})
}

// Update implements ratelimit.Updater, atomically when the active backend
// supports it.
func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn ratelimit.UpdateFunc) error {
	_, err := run(ctx, s, func(b ratelimit.CounterStore) (struct{}, error) {
		return struct{}{}, ratelimit.Update(ctx, b, key, ttl, fn)
	})
	return err
}

// Compile-time interface verification.
var (
	_ ratelimit.CounterStore  = (*Store)(nil)
	_ ratelimit.Updater       = (*Store)(nil)
	_ ratelimit.ModeReporter  = (*Store)(nil)
	_ ratelimit.StateReporter = (*Store)(nil)
)
