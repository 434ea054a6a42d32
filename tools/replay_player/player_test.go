package replayplayer

import (
	"context"
	"net"
	"testing"
	"time"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/match"
	"arenareplay/engine/internal/playback"
	"arenareplay/engine/internal/replay"
	"arenareplay/engine/internal/replaytest"
	"arenareplay/engine/internal/rpc"
)

func record(t *testing.T, game []events.Envelope) string {
	t.Helper()
	now := time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC)
	writer, err := replay.NewWriter(t.TempDir(), "Integration", func() time.Time {
		now = now.Add(250 * time.Millisecond)
		return now
	})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for _, env := range game {
		if err := writer.Append(env); err != nil {
			t.Fatalf("append %s: %v", env.Kind, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return writer.Directory()
}

// liveDigests applies game directly and returns each match's final digest.
func liveDigests(t *testing.T, game []events.Envelope) []string {
	t.Helper()
	session := match.NewSession(match.WithSessionLogger(logging.NewTestLogger()))
	if err := session.LoadBatch(game); err != nil {
		t.Fatalf("load batch: %v", err)
	}
	var digests []string
	for i := 0; i < session.MatchCount(); i++ {
		m, _ := session.Match(i)
		m.Timeline.Seek(m.Timeline.LastRound())
		if _, err := m.Timeline.Advance(0); err != nil {
			t.Fatalf("advance: %v", err)
		}
		m.Timeline.Current().RecomputeIfStale()
		digests = append(digests, m.Timeline.Current().Digest())
	}
	return digests
}

func TestInspectMatchesLiveReconstruction(t *testing.T) {
	game := replaytest.Game(20, 7)
	report, err := Inspect(record(t, game), -1)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if report.Phase != "finished" || report.Winner != replaytest.TeamRed || report.Events != len(game) {
		t.Fatalf("unexpected report %+v", report)
	}
	want := liveDigests(t, game)
	if len(report.Matches) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(report.Matches))
	}
	for i, m := range report.Matches {
		if m.Digest != want[i] {
			t.Fatalf("match %d digest mismatch", i)
		}
		if m.Round != m.LastRound || !m.Finished {
			t.Fatalf("match %d not reconstructed to its end: %+v", i, m)
		}
	}
}

func TestInspectClampsRoundAndAcceptsPartialBundles(t *testing.T) {
	game := replaytest.Game(10)
	report, err := Inspect(record(t, game[:8]), 4)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if report.Manifest.Complete || report.Phase != "in_match" {
		t.Fatalf("expected an in-progress bundle, got %+v", report)
	}
	if len(report.Matches) != 1 || report.Matches[0].Round != 4 || report.Matches[0].Finished {
		t.Fatalf("unexpected match report %+v", report.Matches)
	}

	report, err = Inspect(record(t, game), 99)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if report.Matches[0].Round != 10 {
		t.Fatalf("expected round clamped to 10, got %d", report.Matches[0].Round)
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := Inspect("", -1); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRemoteSummary(t *testing.T) {
	player := playback.New(nil, playback.WithLogger(logging.NewTestLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go player.Run(ctx)
	for _, env := range replaytest.Game(5) {
		if err := player.Ingest(ctx, env); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := rpc.NewServer(rpc.NewService(player), logging.NewTestLogger())
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	summary, err := Remote(ctx, listener.Addr().String(), "")
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if summary["last_round"] != float64(5) {
		t.Fatalf("unexpected remote summary %v", summary)
	}
}
