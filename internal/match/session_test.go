package match

import (
	"errors"
	"testing"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/replaytest"
)

func newTestSession() *Session {
	return NewSession(WithSessionLogger(logging.NewTestLogger()), WithSessionSnapshotInterval(8))
}

func TestLoadBatchBuildsOneTimelinePerMatch(t *testing.T) {
	session := newTestSession()
	if err := session.LoadBatch(replaytest.Game(12, 30)); err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if session.Phase() != PhaseFinished {
		t.Fatalf("expected finished phase, got %s", session.Phase())
	}
	if session.MatchCount() != 2 {
		t.Fatalf("expected 2 matches, got %d", session.MatchCount())
	}
	second, ok := session.Match(1)
	if !ok {
		t.Fatal("second match missing")
	}
	if second.Timeline.LastRound() != 30 || !second.Finished || second.Winner != replaytest.TeamRed {
		t.Fatalf("unexpected second match %+v", second)
	}
	second.Timeline.Seek(30)
	if _, err := second.Timeline.Advance(0); err != nil {
		t.Fatalf("advance: %v", err)
	}
	snapshot := session.Snapshot()
	if snapshot.Phase != "finished" || len(snapshot.Matches) != 2 || snapshot.Matches[1].Current != 30 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(snapshot.Teams) != 2 || snapshot.SpecVersion != "1.0.0" {
		t.Fatalf("unexpected metadata in snapshot %+v", snapshot)
	}
}

func TestSessionRejectsOutOfOrderEvents(t *testing.T) {
	session := newTestSession()
	header := events.GameHeaderEvent(replaytest.GameHeader())
	matchHeader := events.MatchHeaderEvent(replaytest.MatchHeader())
	round := events.RoundEvent(&events.Round{Round: 1})

	if err := session.Apply(matchHeader); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := session.Apply(header); err != nil {
		t.Fatalf("game header: %v", err)
	}
	if err := session.Apply(header); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := session.Apply(round); !errors.Is(err, ErrNoActiveMatch) {
		t.Fatalf("expected ErrNoActiveMatch, got %v", err)
	}
	if err := session.Apply(matchHeader); err != nil {
		t.Fatalf("match header: %v", err)
	}
	if err := session.Apply(matchHeader); !errors.Is(err, ErrUnfinishedMatch) {
		t.Fatalf("expected ErrUnfinishedMatch, got %v", err)
	}
	if err := session.Apply(events.GameFooterEvent(events.GameFooter{})); !errors.Is(err, ErrUnfinishedMatch) {
		t.Fatalf("expected ErrUnfinishedMatch for game footer, got %v", err)
	}
	if err := session.Apply(round); err != nil {
		t.Fatalf("round: %v", err)
	}
	footer := events.MatchFooterEvent(events.MatchFooter{Winner: 2, TotalRounds: 3})
	if err := session.Apply(footer); !errors.Is(err, ErrRoundCountMismatch) {
		t.Fatalf("expected ErrRoundCountMismatch, got %v", err)
	}
	footer = events.MatchFooterEvent(events.MatchFooter{Winner: 2, TotalRounds: 1})
	if err := session.Apply(footer); err != nil {
		t.Fatalf("match footer: %v", err)
	}
	if err := session.Apply(events.RoundEvent(&events.Round{Round: 2})); !errors.Is(err, ErrMatchFinished) {
		t.Fatalf("expected ErrMatchFinished, got %v", err)
	}
	if err := session.Apply(footer); !errors.Is(err, ErrMatchFinished) {
		t.Fatalf("expected ErrMatchFinished for second footer, got %v", err)
	}
	if err := session.Apply(events.GameFooterEvent(events.GameFooter{Winner: 2})); err != nil {
		t.Fatalf("game footer: %v", err)
	}
	if err := session.Apply(matchHeader); !errors.Is(err, ErrGameFinished) {
		t.Fatalf("expected ErrGameFinished, got %v", err)
	}
	if session.Winner() != 2 {
		t.Fatalf("expected winner 2, got %d", session.Winner())
	}
}

func TestLoadBatchRejectsShortOrIncompleteGames(t *testing.T) {
	game := replaytest.Game(3)
	if err := newTestSession().LoadBatch(game[:3]); !errors.Is(err, ErrMalformedBatch) {
		t.Fatalf("expected ErrMalformedBatch for short batch, got %v", err)
	}
	if err := newTestSession().LoadBatch(game[:len(game)-1]); !errors.Is(err, ErrMalformedBatch) {
		t.Fatalf("expected ErrMalformedBatch without game footer, got %v", err)
	}
	skipped := append(append([]events.Envelope(nil), game[:3]...), game[4:]...)
	err := newTestSession().LoadBatch(skipped)
	if err == nil {
		t.Fatal("expected error when a round is missing")
	}
}

func TestMatchWithoutRoundsIsValid(t *testing.T) {
	session := newTestSession()
	if err := session.LoadBatch(replaytest.Game(0)); err != nil {
		t.Fatalf("load batch: %v", err)
	}
	active := session.Active()
	if active == nil || active.Timeline.LastRound() != 0 {
		t.Fatalf("unexpected active match %+v", active)
	}
}
