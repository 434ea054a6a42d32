package timeline

import (
	"errors"
	"testing"
	"time"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/replaytest"
	"arenareplay/engine/internal/world"
)

func newFixtureTimeline(t *testing.T, rounds int, opts ...Option) *Timeline {
	t.Helper()
	initial, err := world.New(replaytest.Metadata(), replaytest.MatchHeader(), world.WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	tl, err := New(initial, append([]Option{WithLogger(logging.NewTestLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("new timeline: %v", err)
	}
	for _, r := range replaytest.Rounds(rounds, 42) {
		if err := tl.RecordDelta(r); err != nil {
			t.Fatalf("record round %d: %v", r.Round, err)
		}
	}
	return tl
}

func seekAndRun(t *testing.T, tl *Timeline, round int32) {
	t.Helper()
	tl.Seek(round)
	done, err := tl.Advance(0)
	if err != nil {
		t.Fatalf("advance to %d: %v", round, err)
	}
	if !done {
		t.Fatalf("advance(0) to %d did not finish", round)
	}
}

func TestRecordDeltaRequiresNextRound(t *testing.T) {
	tl := newFixtureTimeline(t, 3)
	if err := tl.RecordDelta(&events.Round{Round: 5}); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("expected ErrOutOfSequence, got %v", err)
	}
	if err := tl.RecordDelta(&events.Round{Round: 4}); err != nil {
		t.Fatalf("record next round: %v", err)
	}
	if tl.LastRound() != 4 {
		t.Fatalf("expected last round 4, got %d", tl.LastRound())
	}
}

func TestSnapshotsAndReplayFromNearestSnapshot(t *testing.T) {
	tl := newFixtureTimeline(t, 199, WithSnapshotInterval(64))

	if done, err := tl.Advance(0); err != nil || !done {
		t.Fatalf("full run: done=%v err=%v", done, err)
	}
	if tl.Farthest().Turn() != 199 {
		t.Fatalf("expected farthest at 199, got %d", tl.Farthest().Turn())
	}
	rounds := tl.SnapshotRounds()
	want := []int32{0, 64, 128, 192}
	if len(rounds) != len(want) {
		t.Fatalf("expected snapshots %v, got %v", want, rounds)
	}
	for i := range want {
		if rounds[i] != want[i] {
			t.Fatalf("expected snapshots %v, got %v", want, rounds)
		}
	}

	before := tl.Stats()
	seekAndRun(t, tl, 70)
	after := tl.Stats()
	if tl.Current().Turn() != 70 {
		t.Fatalf("expected current at 70, got %d", tl.Current().Turn())
	}
	if applied := after.Applied - before.Applied; applied != 6 {
		t.Fatalf("expected 6 rounds replayed from the round-64 snapshot, got %d", applied)
	}
	if after.Restores-before.Restores != 1 {
		t.Fatalf("expected one restore, got %d", after.Restores-before.Restores)
	}
	if after.Snapshots != before.Snapshots {
		t.Fatal("replay recorded a duplicate snapshot")
	}
	if tl.Farthest().Turn() != 199 {
		t.Fatal("seek backwards lost the farthest state")
	}
}

func TestSeekIsDeterministicAcrossPaths(t *testing.T) {
	tl := newFixtureTimeline(t, 150, WithSnapshotInterval(16))
	digests := make(map[int32]string)
	for _, round := range []int32{40, 0, 150, 17, 40, 99, 16, 150, 3, 99} {
		seekAndRun(t, tl, round)
		if tl.Current().Turn() != round {
			t.Fatalf("expected current at %d, got %d", round, tl.Current().Turn())
		}
		digest := tl.Current().Digest()
		if prev, ok := digests[round]; ok && prev != digest {
			t.Fatalf("round %d digest differs between seeks", round)
		}
		digests[round] = digest
	}

	linear := newFixtureTimeline(t, 150, WithSnapshotInterval(1000))
	for _, round := range []int32{3, 16, 17, 40, 99, 150} {
		seekAndRun(t, linear, round)
		if linear.Current().Digest() != digests[round] {
			t.Fatalf("round %d differs from a linear replay", round)
		}
	}
}

func TestSeekClampsToRecordedLog(t *testing.T) {
	tl := newFixtureTimeline(t, 10)
	seekAndRun(t, tl, 500)
	if tl.Current().Turn() != 10 || tl.Target() != 10 {
		t.Fatalf("expected clamp to 10, got turn %d target %d", tl.Current().Turn(), tl.Target())
	}
	seekAndRun(t, tl, -3)
	if tl.Current().Turn() != 0 {
		t.Fatalf("expected clamp to 0, got %d", tl.Current().Turn())
	}
}

func TestSeekForwardAliasesFarthest(t *testing.T) {
	tl := newFixtureTimeline(t, 30)
	seekAndRun(t, tl, 5)
	if tl.Farthest().Turn() != 30 {
		t.Fatalf("expected read-ahead to reach 30, got %d", tl.Farthest().Turn())
	}
	applied := tl.Stats().Applied
	tl.Seek(30)
	if tl.Current() != tl.Farthest() {
		t.Fatal("seek to farthest must share the farthest state")
	}
	if done, err := tl.Advance(0); err != nil || !done {
		t.Fatalf("advance: done=%v err=%v", done, err)
	}
	if tl.Stats().Applied != applied {
		t.Fatal("seek to farthest replayed rounds")
	}
}

func TestAdvanceRespectsBudget(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	tl := newFixtureTimeline(t, 40, WithClock(clock))
	tl.Seek(40)

	done, err := tl.Advance(3 * time.Millisecond)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done {
		t.Fatal("expected budget to run out before round 40")
	}
	turn := tl.Current().Turn()
	if turn < 1 || turn >= 40 {
		t.Fatalf("expected partial progress, got turn %d", turn)
	}
	for i := 0; i < 100 && !done; i++ {
		if done, err = tl.Advance(3 * time.Millisecond); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if !done || tl.Current().Turn() != 40 {
		t.Fatalf("expected to reach 40 across frames, got %d", tl.Current().Turn())
	}
}

func TestLiveLogGrowsWhileViewing(t *testing.T) {
	tl := newFixtureTimeline(t, 0)
	rounds := replaytest.Rounds(20, 42)
	for i, r := range rounds {
		if err := tl.RecordDelta(r); err != nil {
			t.Fatalf("record: %v", err)
		}
		if i == 9 {
			seekAndRun(t, tl, 4)
		}
	}
	seekAndRun(t, tl, tl.LastRound())
	if tl.Current().Turn() != 20 || !tl.Ready() {
		t.Fatalf("expected to follow the log to 20, got %d", tl.Current().Turn())
	}
}

func TestAdvanceSurfacesBadDeltas(t *testing.T) {
	tl := newFixtureTimeline(t, 2)
	if err := tl.RecordDelta(&events.Round{Round: 3, HazardCells: []int32{-1}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	tl.Seek(3)
	if _, err := tl.Advance(0); !errors.Is(err, world.ErrMalformedDelta) {
		t.Fatalf("expected ErrMalformedDelta, got %v", err)
	}
	if tl.Current().Turn() != 2 {
		t.Fatalf("expected state to stop at 2, got %d", tl.Current().Turn())
	}
}

func TestNewRejectsAdvancedState(t *testing.T) {
	initial, err := world.New(replaytest.Metadata(), replaytest.MatchHeader())
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if err := initial.ApplyDelta(&events.Round{Round: 1}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := New(initial); !errors.Is(err, ErrInvalidInitialState) {
		t.Fatalf("expected ErrInvalidInitialState, got %v", err)
	}
}
