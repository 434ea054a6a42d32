// Package playback drives match timelines at a fixed frame rate and
// serialises every outside access to the session onto the frame goroutine.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/match"
	"arenareplay/engine/internal/timeline"
	"arenareplay/engine/internal/world"
)

const (
	defaultFrameRate   = 60.0
	defaultFrameBudget = 8 * time.Millisecond
)

var (
	// ErrNoMatch is returned when a query addresses a match that does not exist.
	ErrNoMatch = errors.New("no such match")
	// ErrStopped is returned by queries once Run has returned.
	ErrStopped = errors.New("player stopped")
)

// Option configures a Player at construction time.
type Option func(*Player)

// WithFrameRate sets the frame frequency.
func WithFrameRate(hz float64) Option {
	return func(p *Player) {
		if hz > 0 {
			p.step = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithFrameBudget bounds the time one frame spends advancing the timeline.
func WithFrameBudget(budget time.Duration) Option {
	return func(p *Player) {
		if budget > 0 {
			p.budget = budget
		}
	}
}

// WithRoundsPerSecond sets the auto-play speed. Zero leaves the target to
// explicit seeks.
func WithRoundsPerSecond(rate float64) Option {
	return func(p *Player) {
		if rate >= 0 {
			p.rate = rate
		}
	}
}

// WithLogger sets the logger used for playback diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Player) {
		if logger != nil {
			p.log = logger
		}
	}
}

// WithClock overrides the time source used to measure frames.
func WithClock(clock func() time.Time) Option {
	return func(p *Player) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Summary is the observer view of the player and its session.
type Summary struct {
	Session         match.Snapshot `json:"session"`
	Match           int            `json:"match"`
	Round           int32          `json:"round"`
	Target          int32          `json:"target"`
	LastRound       int32          `json:"last_round"`
	Paused          bool           `json:"paused"`
	RoundsPerSecond float64        `json:"rounds_per_second"`
	Bodies          int            `json:"bodies"`
	Digest          string         `json:"digest,omitempty"`
	Timeline        timeline.Stats `json:"timeline"`
	Frames          FrameStats     `json:"frames"`
	LastError       string         `json:"last_error,omitempty"`
}

// Player owns a session. Only the goroutine inside Run touches it; other
// goroutines reach it through the query methods.
type Player struct {
	session *match.Session
	monitor *FrameMonitor
	step    time.Duration
	budget  time.Duration
	rate    float64
	now     func() time.Time
	log     *logging.Logger

	commands chan func()
	stopped  chan struct{}

	selected int
	paused   bool
	carry    float64
	lastErr  error
}

// New constructs a player for session.
func New(session *match.Session, opts ...Option) *Player {
	p := &Player{
		session:  session,
		monitor:  NewFrameMonitor(),
		step:     time.Second / defaultFrameRate,
		budget:   defaultFrameBudget,
		now:      time.Now,
		log:      logging.L(),
		commands: make(chan func()),
		stopped:  make(chan struct{}),
		selected: -1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if session == nil {
		p.session = match.NewSession(match.WithSessionLogger(p.log))
	}
	return p
}

// FrameDuration reports the fixed frame step.
func (p *Player) FrameDuration() time.Duration { return p.step }

// Monitor exposes the frame timing statistics.
func (p *Player) Monitor() *FrameMonitor { return p.monitor }

// Run drives frames until ctx is cancelled. Commands are served between
// frames.
func (p *Player) Run(ctx context.Context) {
	defer close(p.stopped)
	ticker := time.NewTicker(p.step)
	defer ticker.Stop()

	last := time.Now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.commands:
			cmd()
		case now := <-ticker.C:
			//1.- Accumulate elapsed time and run fixed steps while catching up.
			accumulator += now.Sub(last)
			last = now
			for accumulator >= p.step {
				p.frame(p.step)
				accumulator -= p.step
			}
		}
	}
}

// frame moves the auto-play target and spends at most one budget advancing.
func (p *Player) frame(step time.Duration) {
	active, ok := p.session.Match(p.selected)
	if !ok {
		return
	}
	tl := active.Timeline

	if !p.paused && p.rate > 0 {
		p.carry += p.rate * step.Seconds()
		if whole := int32(p.carry); whole > 0 {
			p.carry -= float64(whole)
			tl.Seek(tl.Target() + whole)
		}
	}

	start := p.now()
	done, err := tl.Advance(p.budget)
	p.monitor.Observe(p.now().Sub(start), p.budget)
	if err != nil {
		//1.- A corrupt delta halts auto-play on this match until the next seek.
		p.fail(err)
		return
	}
	if done {
		tl.Current().RecomputeIfStale()
	}
}

func (p *Player) fail(err error) {
	if p.lastErr == nil || p.lastErr.Error() != err.Error() {
		p.log.Error("playback halted", logging.Int("match", p.selected), logging.Error(err))
	}
	p.lastErr = err
	p.paused = true
}

// do runs fn on the frame goroutine and waits for it.
func (p *Player) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case p.commands <- wrapped:
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Ingest applies one event to the session. A newly opened match becomes the
// viewed match when the viewer was on the newest match.
func (p *Player) Ingest(ctx context.Context, env events.Envelope) error {
	var applyErr error
	if err := p.do(ctx, func() { applyErr = p.ingest(env) }); err != nil {
		return err
	}
	return applyErr
}

func (p *Player) ingest(env events.Envelope) error {
	following := p.selected == p.session.MatchCount()-1
	if err := p.session.Apply(env); err != nil {
		return err
	}
	if env.Kind == events.KindMatchHeader && following {
		p.selectMatch(p.session.MatchCount() - 1)
	}
	return nil
}

func (p *Player) selectMatch(index int) {
	if index == p.selected {
		return
	}
	p.selected = index
	p.carry = 0
	p.lastErr = nil
	p.monitor.Reset()
}

// Seek selects a match and moves its target round. The round is clamped to
// the recorded log; the clamped value is returned.
func (p *Player) Seek(ctx context.Context, matchIndex int, round int32) (int32, error) {
	var (
		target int32
		err    error
	)
	if doErr := p.do(ctx, func() {
		active, ok := p.session.Match(matchIndex)
		if !ok {
			err = fmt.Errorf("%w: %d", ErrNoMatch, matchIndex)
			return
		}
		p.selectMatch(matchIndex)
		p.lastErr = nil
		active.Timeline.Seek(round)
		target = active.Timeline.Target()
	}); doErr != nil {
		return 0, doErr
	}
	return target, err
}

// SetPaused stops or resumes auto-play.
func (p *Player) SetPaused(ctx context.Context, paused bool) error {
	return p.do(ctx, func() {
		p.paused = paused
		p.carry = 0
	})
}

// Summary reports the session and playback position.
func (p *Player) Summary(ctx context.Context) (Summary, error) {
	var summary Summary
	err := p.do(ctx, func() { summary = p.summary() })
	return summary, err
}

func (p *Player) summary() Summary {
	summary := Summary{
		Session:         p.session.Snapshot(),
		Match:           p.selected,
		Paused:          p.paused,
		RoundsPerSecond: p.rate,
		Frames:          p.monitor.Snapshot(),
	}
	if p.lastErr != nil {
		summary.LastError = p.lastErr.Error()
	}
	if active, ok := p.session.Match(p.selected); ok {
		current := active.Timeline.Current()
		summary.Round = current.Turn()
		summary.Target = active.Timeline.Target()
		summary.LastRound = active.Timeline.LastRound()
		summary.Bodies = current.BodyCount()
		summary.Digest = current.Digest()
		summary.Timeline = active.Timeline.Stats()
	}
	return summary
}

// Bodies reconstructs a match at round and returns its bodies. It advances
// synchronously and leaves the match selected and paused at that round.
func (p *Player) Bodies(ctx context.Context, matchIndex int, round int32) ([]world.Body, int32, error) {
	var (
		bodies []world.Body
		turn   int32
		err    error
	)
	if doErr := p.do(ctx, func() {
		active, ok := p.session.Match(matchIndex)
		if !ok {
			err = fmt.Errorf("%w: %d", ErrNoMatch, matchIndex)
			return
		}
		p.selectMatch(matchIndex)
		p.paused = true
		active.Timeline.Seek(round)
		if _, err = active.Timeline.Advance(0); err != nil {
			p.fail(err)
			return
		}
		current := active.Timeline.Current()
		bodies, turn = current.Bodies(), current.Turn()
	}); doErr != nil {
		return nil, 0, doErr
	}
	return bodies, turn, err
}
