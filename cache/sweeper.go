package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Sweeper: periodic reclamation of dead identity-cache entries
// ---------------------------------------------------------------------------

// SweepStats holds statistics from a single sweep pass.
type SweepStats struct {
	Swept         int
	SweepDuration time.Duration
	Timestamp     time.Time
}

// Sweeper periodically removes identity-cache entries whose weak frame
// anchor has been collected. Dead entries are also dropped lazily when a
// lookup finds them, so the sweeper exists only to bound the memory held
// by entries nothing ever looks up again — long-running sessions with
// churning frames would otherwise accumulate map garbage.
type Sweeper struct {
	target   interface{ Sweep() int }
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle
	log      commonlog.Logger

	sweepCount atomic.Uint64
	lastStats  atomic.Value // *SweepStats
}

// DefaultSweepInterval is the default sweep interval.
const DefaultSweepInterval = 30 * time.Second

// NewSweeper creates a sweeper over the given target with the specified
// interval. Use DefaultSweepInterval for the default (30s).
func NewSweeper(target interface{ Sweep() int }, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		target:   target,
		interval: interval,
		log:      commonlog.GetLogger("cache.sweeper"),
	}
	s.enabled.Store(true)
	return s
}

// Start begins the periodic sweep goroutine. It is safe to call Start
// multiple times; only one sweep loop will run.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return // already running
	}

	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	// Capture channels locally so the goroutine does not read s.stop/s.stopped
	// after Stop() has nilled them out.
	stopCh := s.stop
	stoppedCh := s.stopped
	go s.loop(stopCh, stoppedCh)
}

// Stop halts the periodic sweep goroutine and waits for it to finish.
// It is safe to call Stop multiple times or on a sweeper that was never
// started.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables sweeping. When disabled, the goroutine
// still runs but skips sweep passes.
func (s *Sweeper) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// IsEnabled returns whether sweeping is currently enabled.
func (s *Sweeper) IsEnabled() bool {
	return s.enabled.Load()
}

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// SweepCount returns the total number of sweeps performed.
func (s *Sweeper) SweepCount() uint64 {
	return s.sweepCount.Load()
}

// LastStats returns statistics from the most recent sweep, or nil if no
// sweep has been performed yet.
func (s *Sweeper) LastStats() *SweepStats {
	v := s.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*SweepStats)
}

// SweepNow performs an immediate sweep regardless of the timer.
func (s *Sweeper) SweepNow() *SweepStats {
	return s.sweep()
}

// loop is the sweep goroutine. stopCh and stoppedCh are captured copies
// of s.stop and s.stopped to avoid reading struct fields that may be
// nilled by Stop().
func (s *Sweeper) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() {
				s.sweep()
			}
		}
	}
}

func (s *Sweeper) sweep() *SweepStats {
	start := time.Now()
	stats := &SweepStats{Timestamp: start}

	stats.Swept = s.target.Sweep()
	stats.SweepDuration = time.Since(start)

	s.sweepCount.Add(1)
	s.lastStats.Store(stats)

	if stats.Swept > 0 {
		s.log.Debugf("swept %d dead entries in %s", stats.Swept, stats.SweepDuration)
	}
	return stats
}
