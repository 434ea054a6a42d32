package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/replaytest"
)

func writeGame(t *testing.T, root, gameID string, start time.Time, game []events.Envelope) *Writer {
	t.Helper()
	now := start
	clock := func() time.Time {
		now = now.Add(70 * time.Millisecond)
		return now
	}
	writer, err := NewWriter(root, gameID, clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	for i, env := range game {
		if err := writer.Append(env); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return writer
}

func TestWriterRoundTripsEventOrder(t *testing.T) {
	game := replaytest.Game(9, 4)
	writer := writeGame(t, t.TempDir(), "Grand Final #3", time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC), game)

	if filepath.Base(writer.Directory()) != "GrandFinal3-20240710T120000Z" {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}
	bundle, err := ReadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if !bundle.Manifest.Complete || bundle.Manifest.Events != len(game) {
		t.Fatalf("unexpected manifest %+v", bundle.Manifest)
	}
	if len(bundle.Manifest.Matches) != 2 || bundle.Manifest.Matches[0].Rounds != 9 || bundle.Manifest.Matches[1].Rounds != 4 {
		t.Fatalf("unexpected match summaries %+v", bundle.Manifest.Matches)
	}
	if bundle.Header.SpecVersion != "1.0.0" || bundle.Header.Matches != 2 || bundle.Header.Winner != replaytest.TeamRed {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}

	restored := bundle.Events()
	if len(restored) != len(game) {
		t.Fatalf("expected %d events, got %d", len(game), len(restored))
	}
	for i := range game {
		if restored[i].Kind != game[i].Kind || restored[i].Sequence != uint64(i+1) {
			t.Fatalf("event %d: got %s seq %d, want %s", i, restored[i].Kind, restored[i].Sequence, game[i].Kind)
		}
		if game[i].Kind != events.KindRound {
			continue
		}
		want, _ := json.Marshal(game[i].Round)
		got, _ := json.Marshal(restored[i].Round)
		if string(want) != string(got) {
			t.Fatalf("round %d payload changed on disk", game[i].Round.Round)
		}
	}

	count := 0
	if err := bundle.Replay(func(events.Envelope) error { count++; return nil }); err != nil || count != len(game) {
		t.Fatalf("replay visited %d events, err %v", count, err)
	}
}

func TestWriterLeavesIncompleteManifestWithoutGameFooter(t *testing.T) {
	game := replaytest.Game(3)
	writer := writeGame(t, t.TempDir(), "live", time.Date(2024, 7, 11, 8, 0, 0, 0, time.UTC), game[:len(game)-1])

	bundle, err := ReadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if bundle.Manifest.Complete {
		t.Fatal("bundle without a game footer must not be complete")
	}
	if len(bundle.Events()) != len(game)-1 {
		t.Fatalf("expected %d events, got %d", len(game)-1, len(bundle.Events()))
	}
	if err := writer.Append(game[len(game)-1]); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
}

func TestWriterRejectsInvalidEnvelope(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "bad", nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer writer.Close()
	if err := writer.Append(events.Envelope{Kind: events.KindRound}); !errors.Is(err, events.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestReadBundleDetectsMissingRound(t *testing.T) {
	writer := writeGame(t, t.TempDir(), "gap", time.Date(2024, 7, 12, 8, 0, 0, 0, time.UTC), replaytest.Game(5))
	path := filepath.Join(writer.Directory(), roundsFile)

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open rounds: %v", err)
	}
	frames, err := ReadRoundFrames(file)
	file.Close()
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}

	//1.- Re-encode the stream without the third round.
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create rounds: %v", err)
	}
	encoder, err := zstd.NewWriter(out)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	for i, frame := range frames {
		if i == 2 {
			continue
		}
		payload, _ := json.Marshal(frame.Round)
		header := make([]byte, frameHeaderSize)
		binary.LittleEndian.PutUint64(header[0:8], frame.Sequence)
		binary.LittleEndian.PutUint32(header[8:12], uint32(frame.Round.Round))
		binary.LittleEndian.PutUint64(header[12:20], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[20:24], uint32(len(payload)))
		encoder.Write(header)
		encoder.Write(payload)
	}
	encoder.Close()
	out.Close()

	if _, err := ReadBundle(writer.Directory()); !errors.Is(err, ErrCorruptBundle) {
		t.Fatalf("expected ErrCorruptBundle, got %v", err)
	}
}

func TestParseManifestEnforcesSchema(t *testing.T) {
	valid := `{"version":1,"created_at":"2024-07-10T12:00:00Z","game_id":"g1","events_path":"e","rounds_path":"r","header_path":"h","complete":false,"events":0,"matches":[]}`
	if _, err := ParseManifest([]byte(valid)); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}
	for name, doc := range map[string]string{
		"version":   `{"version":2,"created_at":"x","game_id":"g1","events_path":"e","rounds_path":"r","header_path":"h","complete":false,"events":0,"matches":[]}`,
		"game id":   `{"version":1,"created_at":"x","game_id":"a b","events_path":"e","rounds_path":"r","header_path":"h","complete":false,"events":0,"matches":[]}`,
		"missing":   `{"version":1,"created_at":"x","game_id":"g1"}`,
		"unknown":   `{"version":1,"created_at":"x","game_id":"g1","events_path":"e","rounds_path":"r","header_path":"h","complete":false,"events":0,"matches":[],"frames_path":"f"}`,
		"not json":  `{`,
		"negatives": `{"version":1,"created_at":"x","game_id":"g1","events_path":"e","rounds_path":"r","header_path":"h","complete":false,"events":-1,"matches":[]}`,
	} {
		if _, err := ParseManifest([]byte(doc)); !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("%s: expected ErrInvalidManifest, got %v", name, err)
		}
	}
}
