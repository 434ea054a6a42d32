// Package match routes the decoded event stream of a game into one timeline
// per match.
package match

import (
	"errors"
	"fmt"
	"time"

	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/timeline"
	"arenareplay/engine/internal/world"
)

// MinBatchEvents is the shortest complete game: both headers and both footers.
const MinBatchEvents = 4

var (
	// ErrAlreadyStarted is returned for a second game header.
	ErrAlreadyStarted = errors.New("game already started")
	// ErrNotStarted is returned for match events before the game header.
	ErrNotStarted = errors.New("game header not received")
	// ErrUnfinishedMatch is returned when a match or game is opened or closed
	// while a match is still running.
	ErrUnfinishedMatch = errors.New("previous match has no footer")
	// ErrNoActiveMatch is returned for round or footer events outside a match.
	ErrNoActiveMatch = errors.New("no active match")
	// ErrMatchFinished is returned for events addressed to a closed match.
	ErrMatchFinished = errors.New("match already finished")
	// ErrRoundCountMismatch is returned when a footer disagrees with the log.
	ErrRoundCountMismatch = errors.New("footer round count does not match recorded rounds")
	// ErrGameFinished is returned for events after the game footer.
	ErrGameFinished = errors.New("game already finished")
	// ErrMalformedBatch is returned when a batch is not one complete game.
	ErrMalformedBatch = errors.New("malformed event batch")
)

// Phase is the session lifecycle position.
type Phase int

const (
	PhaseAwaitingHeader Phase = iota
	PhaseReady
	PhaseInMatch
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHeader:
		return "awaiting_header"
	case PhaseReady:
		return "ready"
	case PhaseInMatch:
		return "in_match"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Match is one match of the game and the timeline reconstructing it.
type Match struct {
	Index    int
	Map      *world.MapInfo
	Timeline *timeline.Timeline
	Winner   int32
	Finished bool
}

// MatchSummary is the observer view of one match.
type MatchSummary struct {
	Index     int    `json:"index"`
	MapName   string `json:"map_name"`
	Width     int32  `json:"width"`
	Height    int32  `json:"height"`
	Rounds    int32  `json:"rounds"`
	Winner    int32  `json:"winner"`
	Finished  bool   `json:"finished"`
	Current   int32  `json:"current"`
	Snapshots int    `json:"snapshots"`
}

// Snapshot captures a stable view of the session state for observers.
type Snapshot struct {
	Phase       string         `json:"phase"`
	SpecVersion string         `json:"spec_version"`
	Teams       []events.Team  `json:"teams"`
	Winner      int32          `json:"winner"`
	Matches     []MatchSummary `json:"matches"`
}

// SessionOption configures optional Session behaviour at construction time.
type SessionOption func(*Session)

// WithSessionClock overrides the time source handed to every timeline.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionLogger sets the logger used by the session and its matches.
func WithSessionLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithSessionSnapshotInterval sets the timeline snapshot interval.
func WithSessionSnapshotInterval(interval int) SessionOption {
	return func(s *Session) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// Session demultiplexes game events. It is not safe for concurrent use;
// callers serialise access, as the playback driver does.
type Session struct {
	phase    Phase
	meta     *events.Metadata
	matches  []*Match
	winner   int32
	interval int
	now      func() time.Time
	log      *logging.Logger
}

// NewSession constructs an empty session awaiting a game header.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		interval: timeline.DefaultSnapshotInterval,
		now:      time.Now,
		log:      logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Phase reports the lifecycle position.
func (s *Session) Phase() Phase { return s.phase }

// Metadata returns the game metadata, nil before the game header.
func (s *Session) Metadata() *events.Metadata { return s.meta }

// Winner reports the game winner once the game footer arrived.
func (s *Session) Winner() int32 { return s.winner }

// MatchCount reports how many matches have been opened.
func (s *Session) MatchCount() int { return len(s.matches) }

// Match returns the match at index.
func (s *Session) Match(index int) (*Match, bool) {
	if index < 0 || index >= len(s.matches) {
		return nil, false
	}
	return s.matches[index], true
}

// Active returns the most recently opened match, nil before the first.
func (s *Session) Active() *Match {
	if len(s.matches) == 0 {
		return nil
	}
	return s.matches[len(s.matches)-1]
}

// Apply routes one event.
func (s *Session) Apply(env events.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if s.phase == PhaseFinished {
		return fmt.Errorf("%w: got %s", ErrGameFinished, env.Kind)
	}
	switch env.Kind {
	case events.KindGameHeader:
		return s.onGameHeader(*env.GameHeader)
	case events.KindMatchHeader:
		return s.onMatchHeader(*env.MatchHeader)
	case events.KindRound:
		return s.onRound(env.Round)
	case events.KindMatchFooter:
		return s.onMatchFooter(*env.MatchFooter)
	default:
		return s.onGameFooter(*env.GameFooter)
	}
}

func (s *Session) onGameHeader(header events.GameHeader) error {
	if s.phase != PhaseAwaitingHeader {
		return ErrAlreadyStarted
	}
	meta, err := events.MetadataFromHeader(header)
	if err != nil {
		return err
	}
	s.meta = meta
	s.phase = PhaseReady
	s.log.Info("game started",
		logging.String("spec_version", meta.SpecVersion()),
		logging.Int("teams", len(header.Teams)),
	)
	return nil
}

func (s *Session) onMatchHeader(header events.MatchHeader) error {
	switch s.phase {
	case PhaseAwaitingHeader:
		return ErrNotStarted
	case PhaseInMatch:
		return fmt.Errorf("%w: match %d", ErrUnfinishedMatch, len(s.matches)-1)
	}

	index := len(s.matches)
	logger := s.log.With(logging.Int("match", index))
	initial, err := world.New(s.meta, header, world.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("match %d: %w", index, err)
	}
	tl, err := timeline.New(initial,
		timeline.WithSnapshotInterval(s.interval),
		timeline.WithClock(s.now),
		timeline.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("match %d: %w", index, err)
	}
	s.matches = append(s.matches, &Match{Index: index, Map: initial.Map(), Timeline: tl})
	s.phase = PhaseInMatch
	logger.Info("match started",
		logging.String("map", header.MapName),
		logging.Int("bodies", header.Bodies.Len()),
	)
	return nil
}

func (s *Session) activeMatch() (*Match, error) {
	if s.phase == PhaseAwaitingHeader {
		return nil, ErrNotStarted
	}
	active := s.Active()
	if active == nil {
		return nil, ErrNoActiveMatch
	}
	if active.Finished {
		return nil, fmt.Errorf("%w: match %d", ErrMatchFinished, active.Index)
	}
	return active, nil
}

func (s *Session) onRound(round *events.Round) error {
	active, err := s.activeMatch()
	if err != nil {
		return err
	}
	if err := active.Timeline.RecordDelta(round); err != nil {
		return fmt.Errorf("match %d: %w", active.Index, err)
	}
	return nil
}

func (s *Session) onMatchFooter(footer events.MatchFooter) error {
	active, err := s.activeMatch()
	if err != nil {
		return err
	}
	if recorded := active.Timeline.LastRound(); footer.TotalRounds != recorded {
		return fmt.Errorf("%w: match %d footer says %d, recorded %d",
			ErrRoundCountMismatch, active.Index, footer.TotalRounds, recorded)
	}
	active.Winner = footer.Winner
	active.Finished = true
	s.phase = PhaseReady
	s.log.Info("match finished",
		logging.Int("match", active.Index),
		logging.Int32("winner", footer.Winner),
		logging.Int32("rounds", footer.TotalRounds),
	)
	return nil
}

func (s *Session) onGameFooter(footer events.GameFooter) error {
	switch s.phase {
	case PhaseAwaitingHeader:
		return ErrNotStarted
	case PhaseInMatch:
		return fmt.Errorf("%w: match %d", ErrUnfinishedMatch, len(s.matches)-1)
	}
	s.winner = footer.Winner
	s.phase = PhaseFinished
	s.log.Info("game finished",
		logging.Int32("winner", footer.Winner),
		logging.Int("matches", len(s.matches)),
	)
	return nil
}

// LoadBatch applies a complete game in one call. The batch must hold at
// least MinBatchEvents events and leave the session finished.
func (s *Session) LoadBatch(batch []events.Envelope) error {
	if len(batch) < MinBatchEvents {
		return fmt.Errorf("%w: %d events, need at least %d", ErrMalformedBatch, len(batch), MinBatchEvents)
	}
	for i, env := range batch {
		if err := s.Apply(env); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, env.Kind, err)
		}
	}
	if s.phase != PhaseFinished {
		return fmt.Errorf("%w: batch ends in phase %s", ErrMalformedBatch, s.phase)
	}
	return nil
}

// Snapshot returns an observer view of the session.
func (s *Session) Snapshot() Snapshot {
	snapshot := Snapshot{
		Phase:       s.phase.String(),
		SpecVersion: s.meta.SpecVersion(),
		Teams:       s.meta.Teams(),
		Winner:      s.winner,
		Matches:     make([]MatchSummary, 0, len(s.matches)),
	}
	for _, m := range s.matches {
		snapshot.Matches = append(snapshot.Matches, MatchSummary{
			Index:     m.Index,
			MapName:   m.Map.Name,
			Width:     m.Map.Width,
			Height:    m.Map.Height,
			Rounds:    m.Timeline.LastRound(),
			Winner:    m.Winner,
			Finished:  m.Finished,
			Current:   m.Timeline.Current().Turn(),
			Snapshots: len(m.Timeline.SnapshotRounds()),
		})
	}
	return snapshot
}
