package playback

import (
	"sync"
	"time"
)

// FrameStats summarises observed Advance durations.
type FrameStats struct {
	Samples  int           `json:"samples"`
	Average  time.Duration `json:"average"`
	Max      time.Duration `json:"max"`
	Last     time.Duration `json:"last"`
	Overruns int           `json:"overruns"`
}

// AverageFPS derives the frame rate the average Advance cost would allow.
func (s FrameStats) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// FrameMonitor accumulates per-frame Advance timings. An overrun is a frame
// whose Advance took longer than its budget, which happens when a single
// round costs more than the budget.
type FrameMonitor struct {
	mu       sync.Mutex
	samples  int
	total    time.Duration
	max      time.Duration
	last     time.Duration
	overruns int
}

// NewFrameMonitor constructs an empty monitor.
func NewFrameMonitor() *FrameMonitor {
	return &FrameMonitor{}
}

// Observe records one frame.
func (m *FrameMonitor) Observe(duration, budget time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	if budget > 0 && duration > budget {
		m.overruns++
	}
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *FrameMonitor) Snapshot() FrameStats {
	if m == nil {
		return FrameStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := FrameStats{Samples: m.samples, Max: m.max, Last: m.last, Overruns: m.overruns}
	if m.samples > 0 {
		stats.Average = m.total / time.Duration(m.samples)
	}
	return stats
}

// Reset clears the statistics, used when the viewed match changes.
func (m *FrameMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last, m.overruns = 0, 0, 0, 0, 0
	m.mu.Unlock()
}
