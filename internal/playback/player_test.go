package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/match"
	"arenareplay/engine/internal/replaytest"
)

func newTestPlayer(opts ...Option) *Player {
	session := match.NewSession(match.WithSessionLogger(logging.NewTestLogger()), match.WithSessionSnapshotInterval(8))
	return New(session, append([]Option{WithLogger(logging.NewTestLogger())}, opts...)...)
}

func startPlayer(t *testing.T, p *Player) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-p.stopped
	})
	return ctx
}

func TestFrameAutoPlaysAtConfiguredRate(t *testing.T) {
	p := newTestPlayer(WithRoundsPerSecond(20), WithFrameBudget(time.Second))
	for _, env := range replaytest.Game(30) {
		if err := p.ingest(env); err != nil {
			t.Fatalf("ingest %s: %v", env.Kind, err)
		}
	}
	//1.- Twenty frames of 50ms at 20 rounds per second move the target by 20.
	for i := 0; i < 20; i++ {
		p.frame(50 * time.Millisecond)
	}
	summary := p.summary()
	if summary.Match != 0 || summary.Target != 20 || summary.Round != 20 {
		t.Fatalf("unexpected position %+v", summary)
	}
	if summary.Frames.Samples != 20 {
		t.Fatalf("expected 20 frame samples, got %d", summary.Frames.Samples)
	}

	p.paused = true
	for i := 0; i < 10; i++ {
		p.frame(50 * time.Millisecond)
	}
	if p.summary().Target != 20 {
		t.Fatal("paused player moved the target")
	}
}

func TestFrameCarriesFractionalRounds(t *testing.T) {
	p := newTestPlayer(WithRoundsPerSecond(1), WithFrameBudget(time.Second))
	for _, env := range replaytest.Game(10) {
		if err := p.ingest(env); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		p.frame(250 * time.Millisecond)
	}
	if p.summary().Target != 0 {
		t.Fatal("target moved before a full round accumulated")
	}
	p.frame(250 * time.Millisecond)
	if p.summary().Target != 1 {
		t.Fatalf("expected target 1 after one second, got %d", p.summary().Target)
	}
}

func TestFrameOverrunsAreCounted(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(3 * time.Millisecond)
		return now
	}
	p := newTestPlayer(WithClock(clock), WithFrameBudget(time.Millisecond))
	for _, env := range replaytest.Game(5) {
		if err := p.ingest(env); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	p.session.Active().Timeline.Seek(5)
	p.frame(time.Millisecond)
	stats := p.monitor.Snapshot()
	if stats.Overruns != 1 || stats.Last != 3*time.Millisecond {
		t.Fatalf("unexpected frame stats %+v", stats)
	}
}

func TestQueriesRunOnFrameGoroutine(t *testing.T) {
	p := newTestPlayer(WithRoundsPerSecond(0), WithFrameRate(500))
	ctx := startPlayer(t, p)

	for _, env := range replaytest.Game(12, 40) {
		if err := p.Ingest(ctx, env); err != nil {
			t.Fatalf("ingest %s: %v", env.Kind, err)
		}
	}
	if err := p.Ingest(ctx, events.GameFooterEvent(events.GameFooter{})); !errors.Is(err, match.ErrGameFinished) {
		t.Fatalf("expected ErrGameFinished, got %v", err)
	}

	target, err := p.Seek(ctx, 1, 500)
	if err != nil || target != 40 {
		t.Fatalf("seek: target %d err %v", target, err)
	}
	if _, err := p.Seek(ctx, 7, 1); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}

	bodies, turn, err := p.Bodies(ctx, 0, 6)
	if err != nil || turn != 6 {
		t.Fatalf("bodies: turn %d err %v", turn, err)
	}
	if len(bodies) == 0 {
		t.Fatal("expected bodies at round 6")
	}

	summary, err := p.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Match != 0 || summary.Round != 6 || !summary.Paused || summary.Bodies != len(bodies) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Session.Phase != "finished" || len(summary.Session.Matches) != 2 || summary.Digest == "" {
		t.Fatalf("unexpected session summary %+v", summary.Session)
	}
}

func TestNewMatchIsFollowedWhileViewingTheNewest(t *testing.T) {
	p := newTestPlayer()
	game := replaytest.Game(3, 3)
	for _, env := range game[:6] {
		if err := p.ingest(env); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if p.selected != 0 {
		t.Fatalf("expected first match selected, got %d", p.selected)
	}
	if err := p.ingest(game[6]); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if p.selected != 1 {
		t.Fatalf("expected the new match to be followed, got %d", p.selected)
	}
}

func TestQueriesFailAfterStop(t *testing.T) {
	p := newTestPlayer()
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	cancel()
	<-p.stopped
	if _, err := p.Summary(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
