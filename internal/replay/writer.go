package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"arenareplay/engine/internal/events"
)

var gameIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// frameInterval batches round frames so a live recording does not hit the
// zstd encoder once per round.
const frameInterval = 200 * time.Millisecond

// frameHeaderSize is seq(8) + round(4) + captured ns(8) + payload length(4).
const frameHeaderSize = 8 + 4 + 8 + 4

// ErrWriterClosed is returned by Append after Close.
var ErrWriterClosed = errors.New("replay writer closed")

type roundFrame struct {
	seq        uint64
	round      int32
	capturedAt time.Time
	payload    []byte
}

// eventLine is one record of events.jsonl.sz.
type eventLine struct {
	CapturedAt string `json:"captured_at"`
	events.Envelope
}

// Writer streams a game's events into a bundle directory. Rounds go to the
// zstd frame stream, every other event to the snappy JSON lines log. Both
// carry the global sequence number so readers can restore the original order.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	manifest    Manifest
	header      Header
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []roundFrame
	lastFlush   time.Time
	seq         uint64
	closed      bool
}

// NewWriter prepares the bundle directory and opens the compressed sinks.
func NewWriter(root, gameID string, clock func() time.Time) (*Writer, error) {
	if root == "" {
		return nil, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := gameIDCleaner.ReplaceAllString(gameID, "")
	if cleaned == "" {
		cleaned = "game"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, err
	}
	frameFile, err := os.Create(filepath.Join(path, roundsFile))
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, err
	}

	w := &Writer{
		dir: path,
		now: clock,
		manifest: Manifest{
			Version:         ManifestVersion,
			CreatedAt:       created.Format(time.RFC3339Nano),
			GameID:          cleaned,
			FrameIntervalMs: int(frameInterval / time.Millisecond),
			EventsPath:      eventsFile,
			RoundsPath:      roundsFile,
			HeaderPath:      headerFile,
			Matches:         []ManifestMatch{},
		},
		header: Header{
			SchemaVersion: HeaderSchemaVersion,
			GameID:        cleaned,
			FilePointer:   manifestFile,
		},
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}

	//1.- An incomplete manifest marks the bundle as in progress until Close.
	if err := writeManifest(path, w.manifest); err != nil {
		w.closeStreams()
		return nil, err
	}
	return w, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Append stores one event. Rounds are buffered and flushed on the frame
// cadence; other events are flushed immediately.
func (w *Writer) Append(env events.Envelope) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	if err := env.Validate(); err != nil {
		return err
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	w.seq++
	env.Sequence = w.seq
	w.track(env)

	if env.Kind == events.KindRound {
		payload, err := json.Marshal(env.Round)
		if err != nil {
			return err
		}
		w.pending = append(w.pending, roundFrame{seq: env.Sequence, round: env.Round.Round, capturedAt: captured, payload: payload})
		if w.lastFlush.IsZero() {
			w.lastFlush = captured
			return nil
		}
		if captured.Sub(w.lastFlush) >= frameInterval {
			if err := w.flushLocked(); err != nil {
				return err
			}
			w.lastFlush = captured
		}
		return nil
	}

	line, err := json.Marshal(eventLine{CapturedAt: captured.Format(time.RFC3339Nano), Envelope: env})
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// track folds an event into the manifest and header summaries.
func (w *Writer) track(env events.Envelope) {
	w.manifest.Events++
	switch env.Kind {
	case events.KindGameHeader:
		w.header.SpecVersion = env.GameHeader.SpecVersion
		w.header.Teams = append([]events.Team(nil), env.GameHeader.Teams...)
	case events.KindMatchHeader:
		w.manifest.Matches = append(w.manifest.Matches, ManifestMatch{MapName: env.MatchHeader.MapName})
		w.header.Matches = len(w.manifest.Matches)
	case events.KindRound:
		if n := len(w.manifest.Matches); n > 0 {
			w.manifest.Matches[n-1].Rounds = env.Round.Round
		}
	case events.KindMatchFooter:
		if n := len(w.manifest.Matches); n > 0 {
			w.manifest.Matches[n-1].Winner = env.MatchFooter.Winner
			w.manifest.Matches[n-1].Finished = true
		}
	case events.KindGameFooter:
		w.header.Winner = env.GameFooter.Winner
		w.manifest.Complete = true
	}
}

// Flush forces pending round frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return w.frameStream.Flush()
}

// Close flushes every buffer, writes header.json and the final manifest, and
// releases file handles. The manifest is marked complete only when the game
// footer was appended.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every step and surface the first failure.
	var firstErr error
	if err := w.flushLocked(); err != nil {
		firstErr = err
	}
	if err := w.closeStreams(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := WriteHeader(filepath.Join(w.dir, headerFile), w.header); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := writeManifest(w.dir, w.manifest); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (w *Writer) closeStreams() error {
	var firstErr error
	for _, closer := range []func() error{w.eventStream.Close, w.eventFile.Close, w.frameStream.Close, w.frameFile.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	header := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(header[0:8], frame.seq)
		binary.LittleEndian.PutUint32(header[8:12], uint32(frame.round))
		binary.LittleEndian.PutUint64(header[12:20], uint64(frame.capturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[20:24], uint32(len(frame.payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
