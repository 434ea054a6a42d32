// Package live follows a match that is still being played by reading the
// event stream from a websocket feed.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadTimeout      = 60 * time.Second
)

// Sink receives every decoded event in order.
type Sink interface {
	Ingest(ctx context.Context, env events.Envelope) error
}

// Recorder stores a copy of the stream, typically a replay.Writer.
type Recorder interface {
	Append(env events.Envelope) error
}

// Option configures a Feed at construction time.
type Option func(*Feed)

// WithLogger sets the logger used for feed diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.log = logger
		}
	}
}

// WithRecorder tees every accepted event into recorder.
func WithRecorder(recorder Recorder) Option {
	return func(f *Feed) {
		f.recorder = recorder
	}
}

// WithReadTimeout bounds how long the feed waits for the next event.
func WithReadTimeout(timeout time.Duration) Option {
	return func(f *Feed) {
		if timeout > 0 {
			f.readTimeout = timeout
		}
	}
}

// WithHeader adds request headers to the websocket handshake.
func WithHeader(header http.Header) Option {
	return func(f *Feed) {
		f.header = header.Clone()
	}
}

// Feed reads one game from a websocket endpoint. Every text frame is one
// JSON encoded events.Envelope.
type Feed struct {
	url         string
	sink        Sink
	recorder    Recorder
	header      http.Header
	dialer      websocket.Dialer
	readTimeout time.Duration
	log         *logging.Logger
	received    atomic.Int64
}

// NewFeed constructs a feed that forwards events from url into sink.
func NewFeed(url string, sink Sink, opts ...Option) *Feed {
	f := &Feed{
		url:         url,
		sink:        sink,
		dialer:      websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		readTimeout: defaultReadTimeout,
		log:         logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Received reports how many events were forwarded so far.
func (f *Feed) Received() int64 { return f.received.Load() }

// Run connects and forwards events until the game footer arrives, the peer
// closes the stream, or ctx is cancelled. A rejected event ends the run with
// its error because later events cannot be applied without it.
func (f *Feed) Run(ctx context.Context) error {
	if f.sink == nil {
		return fmt.Errorf("live feed requires a sink")
	}
	conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()
	f.log.Info("live feed connected", logging.String("url", f.url))

	//1.- Closing the connection unblocks ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.log.Warn("live feed closed before the game footer", logging.Int64("received", f.Received()))
				return nil
			}
			return fmt.Errorf("read live feed: %w", err)
		}

		var env events.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return fmt.Errorf("%w: decode live event %d: %v", events.ErrMalformedRecord, f.Received()+1, err)
		}
		if err := f.sink.Ingest(ctx, env); err != nil {
			return fmt.Errorf("live event %d (%s): %w", f.Received()+1, env.Kind, err)
		}
		f.received.Add(1)
		if f.recorder != nil {
			if err := f.recorder.Append(env); err != nil {
				//2.- Losing the recording must not stop the viewer.
				f.log.Warn("live recording failed", logging.Error(err))
				f.recorder = nil
			}
		}
		if env.Kind == events.KindGameFooter {
			f.log.Info("live feed finished", logging.Int64("received", f.Received()))
			return nil
		}
	}
}

// IsClosed reports whether err is the normal end of a feed run.
func IsClosed(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
