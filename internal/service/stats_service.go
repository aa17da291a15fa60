// Package service contains application services.
package service

import (
	"sync"
	"sync/atomic"
)

// StatsService tracks admission statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	allowed  atomic.Int64
	denied   atomic.Int64
	failOpen atomic.Int64
	bypassed atomic.Int64

	// Per-tier counters (mutex-protected map).
	mu    sync.Mutex
	tiers map[string]*TierStats
}

// TierStats counts decisions for one tier.
type TierStats struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	FailOpen int64 `json:"fail_open"`
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{tiers: make(map[string]*TierStats)}
}

// RecordAllow counts an admitted request for tier.
func (s *StatsService) RecordAllow(tier string) {
	s.allowed.Add(1)
	s.withTier(tier, func(ts *TierStats) { ts.Allowed++ })
}

// RecordDeny counts a rejected request for tier.
func (s *StatsService) RecordDeny(tier string) {
	s.denied.Add(1)
	s.withTier(tier, func(ts *TierStats) { ts.Denied++ })
}

// RecordFailOpen counts a request admitted because the store failed. It is
// also counted as allowed.
func (s *StatsService) RecordFailOpen(tier string) {
	s.allowed.Add(1)
	s.failOpen.Add(1)
	s.withTier(tier, func(ts *TierStats) {
		ts.Allowed++
		ts.FailOpen++
	})
}

// RecordBypass counts a request on an ignored path.
func (s *StatsService) RecordBypass() {
	s.bypassed.Add(1)
}

func (s *StatsService) withTier(tier string, fn func(*TierStats)) {
	if tier == "" {
		return
	}
	s.mu.Lock()
	ts, ok := s.tiers[tier]
	if !ok {
		ts = &TierStats{}
		s.tiers[tier] = ts
	}
	fn(ts)
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Allowed  int64                `json:"allowed"`
	Denied   int64                `json:"denied"`
	FailOpen int64                `json:"fail_open"`
	Bypassed int64                `json:"bypassed"`
	Tiers    map[string]TierStats `json:"tiers"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	tiers := make(map[string]TierStats, len(s.tiers))
	for k, v := range s.tiers {
		tiers[k] = *v
	}
	s.mu.Unlock()

	return Stats{
		Allowed:  s.allowed.Load(),
		Denied:   s.denied.Load(),
		FailOpen: s.failOpen.Load(),
		Bypassed: s.bypassed.Load(),
		Tiers:    tiers,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.allowed.Store(0)
	s.denied.Store(0)
	s.failOpen.Store(0)
	s.bypassed.Store(0)

	s.mu.Lock()
	s.tiers = make(map[string]*TierStats)
	s.mu.Unlock()
}
