// Package events defines the decoded records a match replay is made of.
package events

import (
	"errors"
	"fmt"
)

// NeutralTeam owns bodies that belong to no competitor. Its per-kind counters
// are never maintained.
const NeutralTeam int32 = 0

// ResourceCount is the number of team resource scalars.
const ResourceCount = 2

// ErrMalformedRecord flags a record whose parallel arrays disagree.
var ErrMalformedRecord = errors.New("malformed record")

// BodyKind enumerates the body archetypes a match can contain.
type BodyKind uint8

const (
	BodyHeadquarters BodyKind = iota
	BodyCollector
	BodySoldier
	BodyMedic
	BodyBuilder
	BodyTower
	// BodyKindCount bounds the per-kind counter arrays.
	BodyKindCount
)

func (k BodyKind) String() string {
	switch k {
	case BodyHeadquarters:
		return "headquarters"
	case BodyCollector:
		return "collector"
	case BodySoldier:
		return "soldier"
	case BodyMedic:
		return "medic"
	case BodyBuilder:
		return "builder"
	case BodyTower:
		return "tower"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known body kind.
func (k BodyKind) Valid() bool { return k < BodyKindCount }

// MarshalText encodes the kind by name.
func (k BodyKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: body kind %d", ErrMalformedRecord, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *BodyKind) UnmarshalText(text []byte) error {
	for candidate := BodyKind(0); candidate < BodyKindCount; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: body kind %q", ErrMalformedRecord, text)
}

// ActionKind enumerates the per-round action vocabulary.
type ActionKind uint8

const (
	ActionAttack ActionKind = iota + 1
	ActionHeal
	ActionTransfer
	ActionPickup
	ActionBuild
	ActionUpgrade
	ActionSignal
)

func (k ActionKind) String() string {
	switch k {
	case ActionAttack:
		return "attack"
	case ActionHeal:
		return "heal"
	case ActionTransfer:
		return "transfer"
	case ActionPickup:
		return "pickup"
	case ActionBuild:
		return "build"
	case ActionUpgrade:
		return "upgrade"
	case ActionSignal:
		return "signal"
	default:
		return fmt.Sprintf("action(%d)", uint8(k))
	}
}

// Team describes one competitor.
type Team struct {
	ID      int32  `json:"id"`
	Name    string `json:"name"`
	Package string `json:"package,omitempty"`
}

// BodyType carries the static attributes shared by every body of one kind.
type BodyType struct {
	Kind            BodyKind `json:"kind"`
	MaxHP           int32    `json:"max_hp"`
	Damage          int32    `json:"damage"`
	Heal            int32    `json:"heal"`
	CarryCapacity   int32    `json:"carry_capacity"`
	InfluenceRadius int32    `json:"influence_radius"`
	BytecodeLimit   int32    `json:"bytecode_limit"`
}

// GameHeader opens a game and declares its teams and body types.
type GameHeader struct {
	SpecVersion string     `json:"spec_version"`
	Teams       []Team     `json:"teams"`
	BodyTypes   []BodyType `json:"body_types"`
}

// SpawnBatch lists bodies entering the map, one index per body.
type SpawnBatch struct {
	IDs   []int32    `json:"ids"`
	Teams []int32    `json:"teams"`
	Kinds []BodyKind `json:"kinds"`
	Xs    []int32    `json:"xs"`
	Ys    []int32    `json:"ys"`
}

// Len reports the number of spawned bodies.
func (b SpawnBatch) Len() int { return len(b.IDs) }

// Validate checks the batch arrays share one length.
func (b SpawnBatch) Validate() error {
	n := len(b.IDs)
	if len(b.Teams) != n || len(b.Kinds) != n || len(b.Xs) != n || len(b.Ys) != n {
		return fmt.Errorf("%w: spawn batch lengths ids=%d teams=%d kinds=%d xs=%d ys=%d",
			ErrMalformedRecord, n, len(b.Teams), len(b.Kinds), len(b.Xs), len(b.Ys))
	}
	return nil
}

// MatchHeader opens a match with its map and starting bodies.
type MatchHeader struct {
	MapName   string     `json:"map_name"`
	Width     int32      `json:"width"`
	Height    int32      `json:"height"`
	Walls     []bool     `json:"walls,omitempty"`
	Resources []int32    `json:"resources,omitempty"`
	Hazards   []bool     `json:"hazards,omitempty"`
	Bodies    SpawnBatch `json:"bodies"`
	MaxRounds int32      `json:"max_rounds"`
}

// Cells reports the number of map cells.
func (h MatchHeader) Cells() int { return int(h.Width) * int(h.Height) }

// Validate checks dimensions and per-cell array lengths.
func (h MatchHeader) Validate() error {
	if h.Width <= 0 || h.Height <= 0 {
		return fmt.Errorf("%w: map %dx%d", ErrMalformedRecord, h.Width, h.Height)
	}
	cells := h.Cells()
	if h.Walls != nil && len(h.Walls) != cells {
		return fmt.Errorf("%w: walls has %d cells, want %d", ErrMalformedRecord, len(h.Walls), cells)
	}
	if h.Resources != nil && len(h.Resources) != cells {
		return fmt.Errorf("%w: resources has %d cells, want %d", ErrMalformedRecord, len(h.Resources), cells)
	}
	if h.Hazards != nil && len(h.Hazards) != cells {
		return fmt.Errorf("%w: hazards has %d cells, want %d", ErrMalformedRecord, len(h.Hazards), cells)
	}
	return h.Bodies.Validate()
}

// TeamUpdate overwrites a team's resource scalars.
type TeamUpdate struct {
	Team      int32                `json:"team"`
	Resources [ResourceCount]int32 `json:"resources"`
}

// Action is one entry of a round's ordered action list. Target is ignored by
// kinds that act only on the actor.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Actor  int32      `json:"actor"`
	Target int32      `json:"target"`
}

// IndicatorDot is a debug marker a body drew during its turn.
type IndicatorDot struct {
	Body  int32  `json:"body"`
	X     int32  `json:"x"`
	Y     int32  `json:"y"`
	Color uint32 `json:"color"`
}

// IndicatorLine is a debug segment a body drew during its turn.
type IndicatorLine struct {
	Body  int32  `json:"body"`
	X1    int32  `json:"x1"`
	Y1    int32  `json:"y1"`
	X2    int32  `json:"x2"`
	Y2    int32  `json:"y2"`
	Color uint32 `json:"color"`
}

// Round is the delta turning the world at round-1 into the world at Round.
type Round struct {
	Round          int32           `json:"round"`
	Teams          []TeamUpdate    `json:"teams,omitempty"`
	MovedIDs       []int32         `json:"moved_ids,omitempty"`
	MovedXs        []int32         `json:"moved_xs,omitempty"`
	MovedYs        []int32         `json:"moved_ys,omitempty"`
	Spawned        SpawnBatch      `json:"spawned"`
	Actions        []Action        `json:"actions,omitempty"`
	DiedIDs        []int32         `json:"died_ids,omitempty"`
	ResourceCells  []int32         `json:"resource_cells,omitempty"`
	ResourceDeltas []int32         `json:"resource_deltas,omitempty"`
	HazardCells    []int32         `json:"hazard_cells,omitempty"`
	BytecodeIDs    []int32         `json:"bytecode_ids,omitempty"`
	BytecodesUsed  []int32         `json:"bytecodes_used,omitempty"`
	Dots           []IndicatorDot  `json:"dots,omitempty"`
	Lines          []IndicatorLine `json:"lines,omitempty"`
}

// Validate checks that every group of parallel arrays shares one length.
func (r *Round) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil round", ErrMalformedRecord)
	}
	if len(r.MovedXs) != len(r.MovedIDs) || len(r.MovedYs) != len(r.MovedIDs) {
		return fmt.Errorf("%w: round %d moves ids=%d xs=%d ys=%d",
			ErrMalformedRecord, r.Round, len(r.MovedIDs), len(r.MovedXs), len(r.MovedYs))
	}
	if len(r.ResourceDeltas) != len(r.ResourceCells) {
		return fmt.Errorf("%w: round %d resource cells=%d deltas=%d",
			ErrMalformedRecord, r.Round, len(r.ResourceCells), len(r.ResourceDeltas))
	}
	if len(r.BytecodesUsed) != len(r.BytecodeIDs) {
		return fmt.Errorf("%w: round %d bytecode ids=%d used=%d",
			ErrMalformedRecord, r.Round, len(r.BytecodeIDs), len(r.BytecodesUsed))
	}
	if err := r.Spawned.Validate(); err != nil {
		return fmt.Errorf("round %d: %w", r.Round, err)
	}
	return nil
}

// MatchFooter closes a match.
type MatchFooter struct {
	Winner      int32 `json:"winner"`
	TotalRounds int32 `json:"total_rounds"`
}

// GameFooter closes a game.
type GameFooter struct {
	Winner int32 `json:"winner"`
}
