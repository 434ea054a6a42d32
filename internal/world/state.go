// Package world holds the reconstructed state of one match at one round and
// applies round deltas to it.
package world

import (
	"errors"
	"fmt"

	"arenareplay/engine/internal/columns"
	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
)

var (
	// ErrOutOfSequence is returned when a delta does not follow the current turn.
	ErrOutOfSequence = errors.New("round delta out of sequence")
	// ErrMalformedDelta is returned when a delta cannot be applied to the current state.
	ErrMalformedDelta = errors.New("malformed round delta")
)

// MapInfo is the static part of the map. It is shared, never copied, by
// every state of one match.
type MapInfo struct {
	Name      string
	Width     int32
	Height    int32
	MaxRounds int32
	walls     []bool
}

// Cells reports the number of map cells.
func (m *MapInfo) Cells() int { return int(m.Width) * int(m.Height) }

// Wall reports whether cell holds impassable terrain.
func (m *MapInfo) Wall(cell int) bool {
	if m.walls == nil {
		return false
	}
	return m.walls[cell]
}

// InBounds reports whether (x, y) lies on the map.
func (m *MapInfo) InBounds(x, y int32) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// TeamStats aggregates per-team totals.
type TeamStats struct {
	Team      int32
	Resources [events.ResourceCount]int32
	Bodies    [events.BodyKindCount]int32
	Spawned   int32
	Lost      int32
}

// Count sums the per-kind body counters.
func (t TeamStats) Count() int32 {
	var total int32
	for _, n := range t.Bodies {
		total += n
	}
	return total
}

// MapStats holds the per-cell layers a delta can change plus the lazily
// computed control layer.
type MapStats struct {
	Resources []int32
	Hazards   []bool

	owner    []int32
	strength []int32
	stale    bool
}

func (m *MapStats) copyFrom(src *MapStats) {
	m.Resources = append(m.Resources[:0], src.Resources...)
	m.Hazards = append(m.Hazards[:0], src.Hazards...)
	m.owner = append(m.owner[:0], src.owner...)
	m.strength = append(m.strength[:0], src.strength...)
	m.stale = src.stale
}

// bodyStore is the typed schema of the bodies table.
type bodyStore struct {
	table     *columns.Table
	id        columns.KeyColumn
	team      *columns.Column[int32]
	kind      *columns.Column[events.BodyKind]
	x         *columns.Column[int32]
	y         *columns.Column[int32]
	hp        *columns.Column[int32]
	level     *columns.Column[int32]
	carried   *columns.Column[int32]
	carrying  *columns.Column[uint8]
	bytecodes *columns.Column[int32]
}

func newBodyStore() bodyStore {
	table, id := columns.NewTable("bodies", "id")
	return bodyStore{
		table:     table,
		id:        id,
		team:      columns.Add[int32](table, "team"),
		kind:      columns.Add[events.BodyKind](table, "kind"),
		x:         columns.Add[int32](table, "x"),
		y:         columns.Add[int32](table, "y"),
		hp:        columns.Add[int32](table, "hp"),
		level:     columns.Add[int32](table, "level"),
		carried:   columns.AddOptional[int32](table, "carried"),
		carrying:  columns.AddOptional[uint8](table, "carrying"),
		bytecodes: columns.AddOptional[int32](table, "bytecodes"),
	}
}

// removedStore records bodies deleted during the last applied round.
type removedStore struct {
	table *columns.Table
	id    columns.KeyColumn
	team  *columns.Column[int32]
	kind  *columns.Column[events.BodyKind]
	x     *columns.Column[int32]
	y     *columns.Column[int32]
}

func newRemovedStore() removedStore {
	table, id := columns.NewTable("removed", "id")
	return removedStore{
		table: table,
		id:    id,
		team:  columns.Add[int32](table, "team"),
		kind:  columns.Add[events.BodyKind](table, "kind"),
		x:     columns.Add[int32](table, "x"),
		y:     columns.Add[int32](table, "y"),
	}
}

// markerStore holds the action markers of the last applied round, keyed by
// their position in the action list.
type markerStore struct {
	table  *columns.Table
	seq    columns.KeyColumn
	action *columns.Column[events.ActionKind]
	actor  *columns.Column[int32]
	target *columns.Column[int32]
	x1     *columns.Column[int32]
	y1     *columns.Column[int32]
	x2     *columns.Column[int32]
	y2     *columns.Column[int32]
}

func newMarkerStore() markerStore {
	table, seq := columns.NewTable("markers", "seq")
	return markerStore{
		table:  table,
		seq:    seq,
		action: columns.Add[events.ActionKind](table, "action"),
		actor:  columns.Add[int32](table, "actor"),
		target: columns.Add[int32](table, "target"),
		x1:     columns.Add[int32](table, "x1"),
		y1:     columns.Add[int32](table, "y1"),
		x2:     columns.Add[int32](table, "x2"),
		y2:     columns.Add[int32](table, "y2"),
	}
}

// indicatorStore holds the debug dots and lines of the last applied round.
// Dots use x2/y2 = x1/y1.
type indicatorStore struct {
	table *columns.Table
	seq   columns.KeyColumn
	body  *columns.Column[int32]
	x1    *columns.Column[int32]
	y1    *columns.Column[int32]
	x2    *columns.Column[int32]
	y2    *columns.Column[int32]
	color *columns.Column[uint32]
}

func newIndicatorStore(name string) indicatorStore {
	table, seq := columns.NewTable(name, "seq")
	return indicatorStore{
		table: table,
		seq:   seq,
		body:  columns.Add[int32](table, "body"),
		x1:    columns.Add[int32](table, "x1"),
		y1:    columns.Add[int32](table, "y1"),
		x2:    columns.Add[int32](table, "x2"),
		y2:    columns.Add[int32](table, "y2"),
		color: columns.Add[uint32](table, "color"),
	}
}

// Option configures a State at construction time.
type Option func(*State)

// WithLogger routes diagnostics such as unknown action kinds to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.log = logger
		}
	}
}

// State is the world at one round. It changes only through ApplyDelta and
// CopyFrom.
type State struct {
	meta *events.Metadata
	info *MapInfo
	log  *logging.Logger
	turn int32

	bodies  bodyStore
	removed removedStore
	markers markerStore
	dots    indicatorStore
	lines   indicatorStore

	teams     []TeamStats
	teamIndex map[int32]int
	cells     MapStats

	unknownActions int

	// scratch buffers reused across ApplyDelta calls
	seen     map[int32]struct{}
	dead     []int32
	deadTeam []int32
	deadKind []events.BodyKind
	deadX    []int32
	deadY    []int32
}

// New builds the round-zero state for a match.
func New(meta *events.Metadata, header events.MatchHeader, opts ...Option) (*State, error) {
	if err := header.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	info := &MapInfo{
		Name:      header.MapName,
		Width:     header.Width,
		Height:    header.Height,
		MaxRounds: header.MaxRounds,
	}
	if header.Walls != nil {
		info.walls = append([]bool(nil), header.Walls...)
	}
	s := newState(meta, info, opts...)

	cells := info.Cells()
	s.cells.Resources = make([]int32, cells)
	s.cells.Hazards = make([]bool, cells)
	copy(s.cells.Resources, header.Resources)
	copy(s.cells.Hazards, header.Hazards)

	if err := s.validateSpawns(header.Bodies); err != nil {
		return nil, err
	}
	if err := s.spawn(header.Bodies); err != nil {
		return nil, err
	}
	return s, nil
}

func newState(meta *events.Metadata, info *MapInfo, opts ...Option) *State {
	s := &State{
		meta:      meta,
		info:      info,
		log:       logging.L(),
		bodies:    newBodyStore(),
		removed:   newRemovedStore(),
		markers:   newMarkerStore(),
		dots:      newIndicatorStore("dots"),
		lines:     newIndicatorStore("lines"),
		teamIndex: make(map[int32]int),
		seen:      make(map[int32]struct{}),
	}
	s.cells.stale = true
	for _, team := range meta.Teams() {
		s.teamIndex[team.ID] = len(s.teams)
		s.teams = append(s.teams, TeamStats{Team: team.ID})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Turn reports the last applied round.
func (s *State) Turn() int32 { return s.turn }

// Map returns the shared static map description.
func (s *State) Map() *MapInfo { return s.info }

// Metadata returns the game metadata the state was built with.
func (s *State) Metadata() *events.Metadata { return s.meta }

// BodyCount reports how many bodies are alive.
func (s *State) BodyCount() int { return s.bodies.table.Len() }

// UnknownActions reports how many unrecognised action kinds were ignored
// while building this state.
func (s *State) UnknownActions() int { return s.unknownActions }

// SkippedKeys reports how many altered ids had no body when the update ran.
func (s *State) SkippedKeys() int { return s.bodies.table.Skipped() }

// Team returns the aggregate stats of a team.
func (s *State) Team(id int32) (TeamStats, bool) {
	idx, ok := s.teamIndex[id]
	if !ok {
		return TeamStats{}, false
	}
	return s.teams[idx], true
}

// Teams returns a copy of every team's stats in declaration order.
func (s *State) Teams() []TeamStats {
	return append([]TeamStats(nil), s.teams...)
}

// ResourceAt returns the resource layer value of a cell.
func (s *State) ResourceAt(x, y int32) int32 {
	return s.cells.Resources[s.cellIndex(x, y)]
}

// HazardAt reports whether a cell is hazardous.
func (s *State) HazardAt(x, y int32) bool {
	return s.cells.Hazards[s.cellIndex(x, y)]
}

func (s *State) cellIndex(x, y int32) int {
	return int(y)*int(s.info.Width) + int(x)
}

// Body is a read-only copy of one row of the bodies table.
type Body struct {
	ID        int32           `json:"id"`
	Team      int32           `json:"team"`
	Kind      events.BodyKind `json:"kind"`
	X         int32           `json:"x"`
	Y         int32           `json:"y"`
	HP        int32           `json:"hp"`
	Level     int32           `json:"level"`
	Carried   int32           `json:"carried"`
	Carrying  bool            `json:"carrying"`
	Bytecodes int32           `json:"bytecodes"`
}

func (s *State) bodyAt(row int) Body {
	b := &s.bodies
	return Body{
		ID:        b.id.At(row),
		Team:      b.team.At(row),
		Kind:      b.kind.At(row),
		X:         b.x.At(row),
		Y:         b.y.At(row),
		HP:        b.hp.At(row),
		Level:     b.level.At(row),
		Carried:   b.carried.At(row),
		Carrying:  b.carrying.At(row) != 0,
		Bytecodes: b.bytecodes.At(row),
	}
}

// Body resolves a living body by id.
func (s *State) Body(id int32) (Body, bool) {
	row := s.bodies.table.Index(id)
	if row == columns.NotFound {
		return Body{}, false
	}
	return s.bodyAt(row), true
}

// Bodies copies every living body in table order.
func (s *State) Bodies() []Body {
	out := make([]Body, s.bodies.table.Len())
	for row := range out {
		out[row] = s.bodyAt(row)
	}
	return out
}

// Removed describes a body deleted during the last applied round.
type Removed struct {
	ID   int32           `json:"id"`
	Team int32           `json:"team"`
	Kind events.BodyKind `json:"kind"`
	X    int32           `json:"x"`
	Y    int32           `json:"y"`
}

// RemovedThisRound lists bodies deleted by the last applied round.
func (s *State) RemovedThisRound() []Removed {
	r := &s.removed
	out := make([]Removed, r.table.Len())
	for row := range out {
		out[row] = Removed{ID: r.id.At(row), Team: r.team.At(row), Kind: r.kind.At(row), X: r.x.At(row), Y: r.y.At(row)}
	}
	return out
}

// Marker is an action effect drawn between actor and target.
type Marker struct {
	Action events.ActionKind `json:"action"`
	Actor  int32             `json:"actor"`
	Target int32             `json:"target"`
	X1     int32             `json:"x1"`
	Y1     int32             `json:"y1"`
	X2     int32             `json:"x2"`
	Y2     int32             `json:"y2"`
}

// Markers lists the action markers of the last applied round in action order.
func (s *State) Markers() []Marker {
	m := &s.markers
	out := make([]Marker, m.table.Len())
	for row := range out {
		out[row] = Marker{
			Action: m.action.At(row),
			Actor:  m.actor.At(row),
			Target: m.target.At(row),
			X1:     m.x1.At(row),
			Y1:     m.y1.At(row),
			X2:     m.x2.At(row),
			Y2:     m.y2.At(row),
		}
	}
	return out
}

// Indicators reports how many debug dots and lines the last round carried.
func (s *State) Indicators() (dots, lines int) {
	return s.dots.table.Len(), s.lines.table.Len()
}

// Clone returns an independent deep copy sharing only static map data.
func (s *State) Clone() *State {
	clone := newState(s.meta, s.info, WithLogger(s.log))
	if err := clone.CopyFrom(s); err != nil {
		// Both states come from the same schema, so a copy cannot fail.
		panic(fmt.Sprintf("world: clone: %v", err))
	}
	return clone
}

// CopyFrom overwrites s with the contents of src. Both must belong to the
// same match.
func (s *State) CopyFrom(src *State) error {
	if src == s {
		return nil
	}
	if src.info != s.info {
		return fmt.Errorf("%w: states belong to different maps", columns.ErrIncompatibleSchema)
	}
	for _, pair := range [][2]*columns.Table{
		{s.bodies.table, src.bodies.table},
		{s.removed.table, src.removed.table},
		{s.markers.table, src.markers.table},
		{s.dots.table, src.dots.table},
		{s.lines.table, src.lines.table},
	} {
		if err := pair[0].CopyFrom(pair[1]); err != nil {
			return err
		}
	}
	s.meta = src.meta
	s.turn = src.turn
	s.unknownActions = src.unknownActions
	s.teams = append(s.teams[:0], src.teams...)
	clear(s.teamIndex)
	for k, v := range src.teamIndex {
		s.teamIndex[k] = v
	}
	s.cells.copyFrom(&src.cells)
	return nil
}
