package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// DefaultSampleSize is the number of keys returned by Stats when the caller
// does not ask for a specific sample.
const DefaultSampleSize = 10

// ErrEmptyPattern is returned when a destructive operation is given no pattern.
var ErrEmptyPattern = errors.New("pattern is required")

// KeyCountObserver is told the key count seen by each Stats call.
type KeyCountObserver interface {
	SetKeyCount(n int)
}

// StoreStats describes the contents of the counter store.
type StoreStats struct {
	TotalKeys  int      `json:"total_keys"`
	SampleKeys []string `json:"sample_keys"`
	Backend    string   `json:"backend"`
	State      string   `json:"state,omitempty"`
}

// InvalidationService enumerates, inspects and deletes counter records.
type InvalidationService struct {
	store    ratelimit.CounterStore
	observer KeyCountObserver
	logger   *slog.Logger
}

// NewInvalidationService creates an InvalidationService over store.
// observer may be nil.
func NewInvalidationService(store ratelimit.CounterStore, observer KeyCountObserver, logger *slog.Logger) *InvalidationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationService{store: store, observer: observer, logger: logger}
}

// ListKeys returns up to limit keys matching pattern plus the total match
// count. limit <= 0 returns every match.
func (s *InvalidationService) ListKeys(ctx context.Context, pattern string, limit int) ([]string, int, error) {
	if pattern == "" {
		pattern = "*"
	}
	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list keys: %w", err)
	}
	total := len(keys)
	if limit > 0 && total > limit {
		keys = keys[:limit]
	}
	return keys, total, nil
}

// DeleteByPattern deletes every key matching pattern and returns how many
// were actually removed. Keys that expire between listing and deletion are
// not counted. A failed delete aborts the sweep; the count so far is
// returned with the error.
func (s *InvalidationService) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrEmptyPattern
	}

	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to list keys: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		ok, err := s.store.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}

	s.logger.Info("rate limit keys invalidated",
		"pattern", pattern,
		"matched", len(keys),
		"deleted", deleted,
	)
	return deleted, nil
}

// Stats counts every key in the store and returns a sorted sample of at
// most sampleSize keys. sampleSize <= 0 uses DefaultSampleSize.
func (s *InvalidationService) Stats(ctx context.Context, sampleSize int) (StoreStats, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	keys, err := s.store.Keys(ctx, "*")
	if err != nil {
		return StoreStats{}, fmt.Errorf("failed to list keys: %w", err)
	}

	sample := keys
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	stats := StoreStats{
		TotalKeys:  len(keys),
		SampleKeys: append([]string{}, sample...),
		Backend:    string(ratelimit.ModeOf(s.store)),
	}
	if sr, ok := s.store.(ratelimit.StateReporter); ok {
		stats.State = sr.StoreState()
	}

	if s.observer != nil {
		s.observer.SetKeyCount(stats.TotalKeys)
	}
	return stats, nil
}
