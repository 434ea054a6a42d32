// Package timeline reconstructs a match at any recorded round from a delta
// log and periodic snapshots, advancing in caller-bounded time slices.
package timeline

import (
	"errors"
	"fmt"
	"time"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/world"
)

// DefaultSnapshotInterval is the number of rounds between snapshots.
const DefaultSnapshotInterval = 64

var (
	// ErrOutOfSequence is returned when a recorded delta does not extend the log.
	ErrOutOfSequence = errors.New("delta does not extend the log")
	// ErrPastEnd signals an attempt to step beyond the last recorded delta.
	// Seek clamps its target, so seeing it means the timeline is corrupt.
	ErrPastEnd = errors.New("advance past the last recorded delta")
	// ErrInvalidInitialState is returned when the base state is not at round zero.
	ErrInvalidInitialState = errors.New("initial state must be at round zero")
)

// Stats counts the work a timeline has done.
type Stats struct {
	Applied   int `json:"applied"`
	Restores  int `json:"restores"`
	Snapshots int `json:"snapshots"`
}

// Option configures a Timeline at construction time.
type Option func(*Timeline)

// WithSnapshotInterval overrides the number of rounds between snapshots.
func WithSnapshotInterval(interval int) Option {
	return func(t *Timeline) {
		if interval > 0 {
			t.interval = int32(interval)
		}
	}
}

// WithClock overrides the time source used to enforce Advance budgets.
func WithClock(clock func() time.Time) Option {
	return func(t *Timeline) {
		//1.- Tests inject a fake clock to make budget exhaustion deterministic.
		if clock != nil {
			t.now = clock
		}
	}
}

// WithLogger sets the logger used for snapshot and restore diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Timeline) {
		if logger != nil {
			t.log = logger
		}
	}
}

// Timeline owns the delta log of one match and the states derived from it.
// Current and farthest are indices into slots; when they are equal both
// views share one state and the next read-ahead clones it first.
type Timeline struct {
	interval  int32
	deltas    []*events.Round
	snapshots []*world.State

	slots    [2]*world.State
	current  int
	farthest int
	target   int32

	now   func() time.Time
	log   *logging.Logger
	stats Stats
}

// New starts a timeline whose round-zero state is initial. The timeline
// takes ownership of initial.
func New(initial *world.State, opts ...Option) (*Timeline, error) {
	if initial == nil || initial.Turn() != 0 {
		return nil, ErrInvalidInitialState
	}
	t := &Timeline{
		interval: DefaultSnapshotInterval,
		deltas:   []*events.Round{nil},
		now:      time.Now,
		log:      logging.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.slots[0] = initial
	t.snapshots = []*world.State{initial.Clone()}
	t.stats.Snapshots = 1
	return t, nil
}

// RecordDelta appends the next round to the log.
func (t *Timeline) RecordDelta(delta *events.Round) error {
	if delta == nil {
		return fmt.Errorf("%w: nil round", ErrOutOfSequence)
	}
	if want := int32(len(t.deltas)); delta.Round != want {
		return fmt.Errorf("%w: got round %d, want %d", ErrOutOfSequence, delta.Round, want)
	}
	t.deltas = append(t.deltas, delta)
	return nil
}

// LastRound reports the highest recorded round.
func (t *Timeline) LastRound() int32 { return int32(len(t.deltas) - 1) }

// Interval reports the snapshot interval.
func (t *Timeline) Interval() int32 { return t.interval }

// Target reports the round the timeline is advancing toward.
func (t *Timeline) Target() int32 { return t.target }

// Current returns the state the caller is viewing. It must not be mutated.
func (t *Timeline) Current() *world.State { return t.slots[t.current] }

// Farthest returns the most advanced computed state. It must not be mutated.
func (t *Timeline) Farthest() *world.State { return t.slots[t.farthest] }

// Ready reports whether the current state has reached the target.
func (t *Timeline) Ready() bool { return t.Current().Turn() == t.target }

// Stats returns the work counters.
func (t *Timeline) Stats() Stats { return t.stats }

// SnapshotRounds lists the rounds that hold a snapshot.
func (t *Timeline) SnapshotRounds() []int32 {
	rounds := make([]int32, 0, len(t.snapshots))
	for k, snap := range t.snapshots {
		if snap != nil {
			rounds = append(rounds, int32(k)*t.interval)
		}
	}
	return rounds
}

// Seek sets the target round, clamped to the recorded log, and positions the
// current state so Advance only replays from the nearest snapshot.
func (t *Timeline) Seek(round int32) {
	round = max(0, min(round, t.LastRound()))
	t.target = round

	//1.- Anything at or past farthest resumes from farthest itself.
	if round >= t.Farthest().Turn() {
		t.current = t.farthest
		return
	}

	//2.- Rewinds, and jumps over a snapshot, restore from the snapshot.
	boundary := round - round%t.interval
	if turn := t.Current().Turn(); round < turn || turn < boundary {
		t.restore(boundary)
	}
}

// restore positions current at the latest snapshot at or below round.
func (t *Timeline) restore(round int32) {
	k := int(round / t.interval)
	for k > 0 && (k >= len(t.snapshots) || t.snapshots[k] == nil) {
		k--
	}
	snap := t.snapshots[k]

	if t.current == t.farthest {
		t.current = 1 - t.farthest
	}
	if t.slots[t.current] == nil {
		t.slots[t.current] = snap.Clone()
	} else if err := t.slots[t.current].CopyFrom(snap); err != nil {
		// Snapshots are clones of this timeline's own states.
		panic(fmt.Sprintf("timeline: restore snapshot %d: %v", snap.Turn(), err))
	}
	t.stats.Restores++
	t.log.Debug("restored snapshot",
		logging.Int32("snapshot", snap.Turn()),
		logging.Int32("target", t.target),
	)
}

// Advance steps the current state toward the target and then reads ahead
// with the farthest state until budget elapses. A zero budget runs to
// completion. At least one round is applied per call when work remains.
// It reports whether nothing is left to do.
func (t *Timeline) Advance(budget time.Duration) (bool, error) {
	var deadline time.Time
	if budget > 0 {
		deadline = t.now().Add(budget)
	}
	for {
		if err := t.step(); err != nil {
			if errors.Is(err, errIdle) {
				return true, nil
			}
			return false, err
		}
		if budget > 0 && !t.now().Before(deadline) {
			return t.idle(), nil
		}
	}
}

var errIdle = errors.New("timeline idle")

func (t *Timeline) idle() bool {
	return t.Current().Turn() == t.target && t.Farthest().Turn() >= t.LastRound()
}

func (t *Timeline) step() error {
	cur := t.Current()
	if cur.Turn() != t.target {
		if err := t.apply(t.current); err != nil {
			return err
		}
		//1.- Current caught up with farthest, so the two views merge.
		if t.current != t.farthest && cur.Turn() >= t.Farthest().Turn() {
			t.farthest = t.current
		}
		return nil
	}
	if t.Farthest().Turn() >= t.LastRound() {
		return errIdle
	}
	//2.- Read-ahead never moves the state the caller is viewing.
	if t.current == t.farthest {
		spare := 1 - t.current
		if t.slots[spare] == nil {
			t.slots[spare] = cur.Clone()
		} else if err := t.slots[spare].CopyFrom(cur); err != nil {
			return err
		}
		t.farthest = spare
	}
	return t.apply(t.farthest)
}

func (t *Timeline) apply(slot int) error {
	state := t.slots[slot]
	next := state.Turn() + 1
	if int(next) >= len(t.deltas) {
		return fmt.Errorf("%w: round %d, last recorded %d", ErrPastEnd, next, t.LastRound())
	}
	if err := state.ApplyDelta(t.deltas[next]); err != nil {
		return err
	}
	t.stats.Applied++
	t.snapshot(state)
	return nil
}

func (t *Timeline) snapshot(state *world.State) {
	turn := state.Turn()
	if turn%t.interval != 0 {
		return
	}
	k := int(turn / t.interval)
	for len(t.snapshots) <= k {
		t.snapshots = append(t.snapshots, nil)
	}
	if t.snapshots[k] != nil {
		return
	}
	t.snapshots[k] = state.Clone()
	t.stats.Snapshots++
	t.log.Debug("recorded snapshot", logging.Int32("round", turn))
}
