package playback

import (
	"testing"
	"time"
)

func TestFrameMonitorAggregates(t *testing.T) {
	monitor := NewFrameMonitor()
	monitor.Observe(2*time.Millisecond, 8*time.Millisecond)
	monitor.Observe(10*time.Millisecond, 8*time.Millisecond)
	monitor.Observe(0, 8*time.Millisecond)

	stats := monitor.Snapshot()
	if stats.Samples != 2 || stats.Average != 6*time.Millisecond || stats.Max != 10*time.Millisecond {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Last != 10*time.Millisecond || stats.Overruns != 1 {
		t.Fatalf("unexpected last/overruns %+v", stats)
	}
	if fps := stats.AverageFPS(); fps < 166 || fps > 167 {
		t.Fatalf("unexpected fps %.2f", fps)
	}

	monitor.Reset()
	if monitor.Snapshot() != (FrameStats{}) {
		t.Fatal("reset left samples behind")
	}
}
