package tunnel

import (
	"sync/atomic"
	"time"
)

// PoolStats collects pool usage statistics with atomic counters.
type PoolStats struct {
	// Gauges
	idle    atomic.Int64
	active  atomic.Int64
	waiting atomic.Int64

	// Counters
	acquires     atomic.Uint64
	reused       atomic.Uint64
	timeouts     atomic.Uint64
	dialed       atomic.Uint64
	dialFailures atomic.Uint64
	discarded    atomic.Uint64
	pruned       atomic.Uint64

	acquireWaitNanos atomic.Int64
	dialNanos        atomic.Int64

	peakActive atomic.Int64

	createdAt time.Time
}

func newPoolStats() *PoolStats {
	return &PoolStats{createdAt: time.Now()}
}

func (s *PoolStats) recordAcquire(wait time.Duration, reused bool) {
	s.acquires.Add(1)
	if reused {
		s.reused.Add(1)
	}
	s.acquireWaitNanos.Add(max(wait.Nanoseconds(), 0))
	s.raisePeak(s.active.Add(1))
}

func (s *PoolStats) recordReturn() {
	s.active.Add(-1)
}

func (s *PoolStats) recordTimeout() {
	s.timeouts.Add(1)
}

func (s *PoolStats) recordDial(d time.Duration, err error) {
	if err != nil {
		s.dialFailures.Add(1)
		return
	}
	s.dialed.Add(1)
	s.dialNanos.Add(max(d.Nanoseconds(), 0))
}

func (s *PoolStats) raisePeak(current int64) {
	for {
		peak := s.peakActive.Load()
		if current <= peak || s.peakActive.CompareAndSwap(peak, current) {
			return
		}
	}
}

// PoolStatsSnapshot is a point-in-time copy of pool statistics.
type PoolStatsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	Idle    int64
	Active  int64
	Waiting int64

	Acquires     uint64
	Reused       uint64
	Timeouts     uint64
	Dialed       uint64
	DialFailures uint64
	Discarded    uint64
	Pruned       uint64

	// Averages in milliseconds
	AvgAcquireWaitMs float64
	AvgDialMs        float64

	PeakActive int64
}

// Snapshot returns a copy of the current statistics.
func (s *PoolStats) Snapshot() PoolStatsSnapshot {
	now := time.Now()
	snap := PoolStatsSnapshot{
		Timestamp:    now,
		Uptime:       now.Sub(s.createdAt),
		Idle:         s.idle.Load(),
		Active:       s.active.Load(),
		Waiting:      s.waiting.Load(),
		Acquires:     s.acquires.Load(),
		Reused:       s.reused.Load(),
		Timeouts:     s.timeouts.Load(),
		Dialed:       s.dialed.Load(),
		DialFailures: s.dialFailures.Load(),
		Discarded:    s.discarded.Load(),
		Pruned:       s.pruned.Load(),
		PeakActive:   s.peakActive.Load(),
	}
	if snap.Acquires > 0 {
		snap.AvgAcquireWaitMs = float64(s.acquireWaitNanos.Load()) / float64(snap.Acquires) / 1e6
	}
	if snap.Dialed > 0 {
		snap.AvgDialMs = float64(s.dialNanos.Load()) / float64(snap.Dialed) / 1e6
	}
	return snap
}
