package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"arenareplay/engine/internal/events"
)

// ErrCorruptBundle is returned when the stored streams cannot be stitched
// back into one ordered event sequence.
var ErrCorruptBundle = errors.New("corrupt replay bundle")

// Bundle is a replay read back from disk.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	events   []events.Envelope
}

// ReadBundle loads a bundle directory (or its manifest path) and restores
// the events in their original order.
func ReadBundle(path string) (*Bundle, error) {
	manifest, dir, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	header, err := ReadHeader(filepath.Join(dir, manifest.HeaderPath))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	//1.- Decode both streams, then merge them on the sequence number.
	stored, err := loadEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	rounds, err := loadRounds(filepath.Join(dir, manifest.RoundsPath))
	if err != nil {
		return nil, err
	}
	merged := append(stored, rounds...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Sequence < merged[j].Sequence })

	//2.- A gap or duplicate means a stream lost or repeated data.
	for i, env := range merged {
		if want := uint64(i + 1); env.Sequence != want {
			return nil, fmt.Errorf("%w: event %d has sequence %d", ErrCorruptBundle, want, env.Sequence)
		}
	}
	if len(merged) != manifest.Events && manifest.Complete {
		return nil, fmt.Errorf("%w: manifest lists %d events, found %d", ErrCorruptBundle, manifest.Events, len(merged))
	}
	return &Bundle{Dir: dir, Manifest: manifest, Header: header, events: merged}, nil
}

// Events returns a copy of the ordered event list.
func (b *Bundle) Events() []events.Envelope {
	if b == nil {
		return nil
	}
	out := make([]events.Envelope, len(b.events))
	copy(out, b.events)
	return out
}

// Replay invokes apply for every event in order and stops at the first error.
func (b *Bundle) Replay(apply func(events.Envelope) error) error {
	if b == nil {
		return fmt.Errorf("bundle not loaded")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, env := range b.events {
		if err := apply(env); err != nil {
			return err
		}
	}
	return nil
}

func loadEvents(path string) ([]events.Envelope, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []events.Envelope
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record eventLine
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("%w: event line %d: %v", ErrCorruptBundle, len(out)+1, err)
		}
		if err := record.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, err)
		}
		out = append(out, record.Envelope)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RoundFrame is one stored round with its capture metadata.
type RoundFrame struct {
	Sequence   uint64
	CapturedAt time.Time
	Round      *events.Round
}

// ReadRoundFrames decodes a rounds.bin.zst stream.
func ReadRoundFrames(r io.Reader) ([]RoundFrame, error) {
	reader, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []RoundFrame
	offset := 0
	for offset < len(payload) {
		if offset+frameHeaderSize > len(payload) {
			return nil, fmt.Errorf("%w: frame header truncated", ErrCorruptBundle)
		}
		seq := binary.LittleEndian.Uint64(payload[offset : offset+8])
		round := int32(binary.LittleEndian.Uint32(payload[offset+8 : offset+12]))
		captured := int64(binary.LittleEndian.Uint64(payload[offset+12 : offset+20]))
		size := int(binary.LittleEndian.Uint32(payload[offset+20 : offset+24]))
		offset += frameHeaderSize
		if offset+size > len(payload) {
			return nil, fmt.Errorf("%w: frame payload truncated", ErrCorruptBundle)
		}
		var decoded events.Round
		if err := json.Unmarshal(payload[offset:offset+size], &decoded); err != nil {
			return nil, fmt.Errorf("%w: round frame %d: %v", ErrCorruptBundle, round, err)
		}
		offset += size
		//1.- The frame header duplicates the round number as a cheap integrity check.
		if decoded.Round != round {
			return nil, fmt.Errorf("%w: frame header says round %d, payload %d", ErrCorruptBundle, round, decoded.Round)
		}
		frames = append(frames, RoundFrame{Sequence: seq, CapturedAt: time.Unix(0, captured).UTC(), Round: &decoded})
	}
	return frames, nil
}

func loadRounds(path string) ([]events.Envelope, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	frames, err := ReadRoundFrames(file)
	if err != nil {
		return nil, err
	}
	out := make([]events.Envelope, len(frames))
	for i, frame := range frames {
		out[i] = events.RoundEvent(frame.Round)
		out[i].Sequence = frame.Sequence
	}
	return out, nil
}
