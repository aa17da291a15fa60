// Package redis provides the durable counter store backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "admitgate:"

	// DefaultUpdateAttempts is the number of optimistic transactions tried
	// before Update falls back to a plain get and set.
	DefaultUpdateAttempts = 3

	defaultScanCount = 256
)

// prefixEscaper escapes the configured prefix so it matches literally in
// SCAN MATCH.
var prefixEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// ClientSettings bounds every call made by the client.
type ClientSettings struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

// Store implements ratelimit.CounterStore on a Redis server or cluster.
type Store struct {
	client         goredis.UniversalClient
	prefix         string
	updateAttempts int
	scanCount      int64
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithUpdateAttempts sets how many optimistic transactions Update tries.
func WithUpdateAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.updateAttempts = n
		}
	}
}

// WithScanCount sets the COUNT hint used while scanning keys.
func WithScanCount(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

// New wraps an existing client. The store does not connect until the first
// call; use Connect to verify reachability up front.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:         client,
		prefix:         DefaultPrefix,
		updateAttempts: DefaultUpdateAttempts,
		scanCount:      defaultScanCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromURL creates a store from a redis:// or rediss:// connection string.
func NewFromURL(rawURL string, settings ClientSettings, opts ...Option) (*Store, error) {
	clientOpts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if settings.DialTimeout > 0 {
		clientOpts.DialTimeout = settings.DialTimeout
	}
	if settings.ReadTimeout > 0 {
		clientOpts.ReadTimeout = settings.ReadTimeout
	}
	if settings.WriteTimeout > 0 {
		clientOpts.WriteTimeout = settings.WriteTimeout
	}
	if settings.MaxRetries != 0 {
		clientOpts.MaxRetries = settings.MaxRetries
	}
	return New(goredis.NewClient(clientOpts), opts...), nil
}

// Connect pings the server.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w: %w", ratelimit.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}

// Mode reports ModeDurable.
func (s *Store) Mode() ratelimit.StoreMode {
	return ratelimit.ModeDurable
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr("get", err)
	}
	return v, true, nil
}

// Set stores value with the TTL rounded up to whole seconds.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, expiration(ttl)).Err(); err != nil {
		return wrapErr("set", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, wrapErr("delete", err)
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, wrapErr("exists", err)
	}
	return n > 0, nil
}

// Expire resets the TTL of key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, s.key(key), expiration(ttl)).Result()
	if err != nil {
		return false, wrapErr("expire", err)
	}
	return ok, nil
}

// Keys scans for keys matching pattern and returns them without the store
// prefix, sorted. On a cluster every master is scanned.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	g := ratelimit.CompileGlob(pattern)
	match := prefixEscaper.Replace(s.prefix) + g.RedisPattern()

	seen := make(map[string]struct{})
	scan := func(ctx context.Context, c goredis.Cmdable) error {
		var cursor uint64
		for {
			batch, next, err := c.Scan(ctx, cursor, match, s.scanCount).Result()
			if err != nil {
				return err
			}
			for _, k := range batch {
				trimmed, ok := strings.CutPrefix(k, s.prefix)
				if ok && g.Match(trimmed) {
					seen[trimmed] = struct{}{}
				}
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	}

	var err error
	if cc, ok := s.client.(*goredis.ClusterClient); ok {
		var mu sync.Mutex
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *goredis.Client) error {
			mu.Lock()
			defer mu.Unlock()
			return scan(ctx, c)
		})
	} else {
		err = scan(ctx, s.client)
	}
	if err != nil {
		return nil, wrapErr("scan", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when another
// client modifies the key concurrently. After the last failed attempt it
// applies fn with a plain get and set, accepting a possible lost update.
func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn ratelimit.UpdateFunc) error {
	k := s.key(key)
	exp := expiration(ttl)

	txf := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, goredis.Nil) {
			found, err = false, nil
		}
		if err != nil {
			return err
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, next, exp)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.updateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return wrapErr("update", err)
		}
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

// expiration rounds ttl up to whole seconds with a one second minimum.
// A non-positive ttl means no expiry.
func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	secs := (ttl + time.Second - 1) / time.Second
	return max(secs, 1) * time.Second
}

// Compile-time interface verification.
var (
	_ ratelimit.CounterStore = (*Store)(nil)
	_ ratelimit.Updater      = (*Store)(nil)
	_ ratelimit.ModeReporter = (*Store)(nil)
)
