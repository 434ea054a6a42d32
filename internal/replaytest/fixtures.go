// Package replaytest builds deterministic replay streams and feed servers for
// tests.
package replaytest

import (
	"math/rand"
	"sort"

	"arenareplay/engine/internal/events"
)

const (
	// Width and Height size the fixture map.
	Width  = 16
	Height = 12

	// TeamRed and TeamBlue are the fixture competitors.
	TeamRed  int32 = 1
	TeamBlue int32 = 2

	// HQRed and HQBlue are never killed by generated rounds.
	HQRed  int32 = 1
	HQBlue int32 = 2
)

// GameHeader declares two teams and every body kind.
func GameHeader() events.GameHeader {
	return events.GameHeader{
		SpecVersion: "1.0.0",
		Teams: []events.Team{
			{ID: TeamRed, Name: "red", Package: "examplefuncsplayer"},
			{ID: TeamBlue, Name: "blue", Package: "examplefuncsplayer"},
		},
		BodyTypes: []events.BodyType{
			{Kind: events.BodyHeadquarters, MaxHP: 1000, InfluenceRadius: 3, CarryCapacity: 100, BytecodeLimit: 20000},
			{Kind: events.BodyCollector, MaxHP: 40, CarryCapacity: 4, BytecodeLimit: 10000},
			{Kind: events.BodySoldier, MaxHP: 60, Damage: 12, BytecodeLimit: 10000},
			{Kind: events.BodyMedic, MaxHP: 40, Heal: 8, BytecodeLimit: 10000},
			{Kind: events.BodyBuilder, MaxHP: 50, CarryCapacity: 2, BytecodeLimit: 10000},
			{Kind: events.BodyTower, MaxHP: 200, Damage: 20, InfluenceRadius: 2, BytecodeLimit: 5000},
		},
	}
}

// Metadata freezes GameHeader.
func Metadata() *events.Metadata {
	meta, err := events.MetadataFromHeader(GameHeader())
	if err != nil {
		panic(err)
	}
	return meta
}

// MatchHeader places both headquarters and a neutral tower.
func MatchHeader() events.MatchHeader {
	cells := Width * Height
	resources := make([]int32, cells)
	for i := range resources {
		resources[i] = int32(i % 5)
	}
	walls := make([]bool, cells)
	walls[Width*Height/2] = true
	return events.MatchHeader{
		MapName:   "fixture",
		Width:     Width,
		Height:    Height,
		Walls:     walls,
		Resources: resources,
		Hazards:   make([]bool, cells),
		Bodies: events.SpawnBatch{
			IDs:   []int32{HQRed, HQBlue, 3},
			Teams: []int32{TeamRed, TeamBlue, events.NeutralTeam},
			Kinds: []events.BodyKind{events.BodyHeadquarters, events.BodyHeadquarters, events.BodyTower},
			Xs:    []int32{1, Width - 2, Width / 2},
			Ys:    []int32{1, Height - 2, Height / 2},
		},
		MaxRounds: 2000,
	}
}

// Rounds generates n valid consecutive deltas starting at round 1. The same
// seed always yields the same rounds.
func Rounds(n int, seed int64) []*events.Round {
	g := newGenerator(seed)
	rounds := make([]*events.Round, n)
	for i := range rounds {
		rounds[i] = g.next(int32(i + 1))
	}
	return rounds
}

// Match wraps a header, rounds and footer into envelopes.
func Match(rounds []*events.Round) []events.Envelope {
	out := make([]events.Envelope, 0, len(rounds)+2)
	out = append(out, events.MatchHeaderEvent(MatchHeader()))
	for _, r := range rounds {
		out = append(out, events.RoundEvent(r))
	}
	out = append(out, events.MatchFooterEvent(events.MatchFooter{Winner: TeamRed, TotalRounds: int32(len(rounds))}))
	return out
}

// Game builds a complete stream with one match per entry of roundsPerMatch.
func Game(roundsPerMatch ...int) []events.Envelope {
	out := []events.Envelope{events.GameHeaderEvent(GameHeader())}
	for i, n := range roundsPerMatch {
		out = append(out, Match(Rounds(n, int64(i+1)))...)
	}
	out = append(out, events.GameFooterEvent(events.GameFooter{Winner: TeamRed}))
	return out
}

type generator struct {
	rng    *rand.Rand
	alive  map[int32]events.BodyKind
	nextID int32
}

func newGenerator(seed int64) *generator {
	header := MatchHeader()
	g := &generator{
		rng:    rand.New(rand.NewSource(seed)),
		alive:  make(map[int32]events.BodyKind),
		nextID: 100,
	}
	for i, id := range header.Bodies.IDs {
		g.alive[id] = header.Bodies.Kinds[i]
	}
	return g
}

func (g *generator) ids() []int32 {
	ids := make([]int32, 0, len(g.alive))
	for id := range g.alive {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *generator) pick(ids []int32) int32 {
	return ids[g.rng.Intn(len(ids))]
}

func (g *generator) next(round int32) *events.Round {
	r := &events.Round{Round: round}
	r.Teams = []events.TeamUpdate{
		{Team: TeamRed, Resources: [events.ResourceCount]int32{round * 10, round}},
		{Team: TeamBlue, Resources: [events.ResourceCount]int32{round * 9, round / 2}},
	}

	ids := g.ids()
	for i := 0; i < 3; i++ {
		r.MovedIDs = append(r.MovedIDs, g.pick(ids))
		r.MovedXs = append(r.MovedXs, int32(g.rng.Intn(Width)))
		r.MovedYs = append(r.MovedYs, int32(g.rng.Intn(Height)))
	}

	if g.rng.Intn(3) != 0 {
		id := g.nextID
		g.nextID++
		kind := events.BodyKind(1 + g.rng.Intn(int(events.BodyKindCount)-1))
		team := []int32{TeamRed, TeamBlue, events.NeutralTeam}[g.rng.Intn(3)]
		r.Spawned = events.SpawnBatch{
			IDs:   []int32{id},
			Teams: []int32{team},
			Kinds: []events.BodyKind{kind},
			Xs:    []int32{int32(g.rng.Intn(Width))},
			Ys:    []int32{int32(g.rng.Intn(Height))},
		}
		g.alive[id] = kind
		ids = g.ids()
	}

	for i := 0; i < 4; i++ {
		kind := events.ActionKind(1 + g.rng.Intn(int(events.ActionSignal)))
		r.Actions = append(r.Actions, events.Action{Kind: kind, Actor: g.pick(ids), Target: g.pick(ids)})
	}
	r.Actions = append(r.Actions, events.Action{Kind: events.ActionAttack, Actor: 9999, Target: HQRed})

	if round%2 == 0 && len(ids) > 3 {
		victim := g.pick(ids)
		if victim != HQRed && victim != HQBlue {
			r.DiedIDs = []int32{victim, victim, 8888}
			delete(g.alive, victim)
		}
	}

	cell := int32(g.rng.Intn(Width * Height))
	r.ResourceCells = []int32{cell}
	r.ResourceDeltas = []int32{int32(g.rng.Intn(5)) - 2}
	if round%5 == 0 {
		r.HazardCells = []int32{cell}
	}
	r.BytecodeIDs = []int32{HQRed, HQBlue}
	r.BytecodesUsed = []int32{round % 200, (round * 3) % 200}
	r.Dots = []events.IndicatorDot{{Body: HQRed, X: 1, Y: 1, Color: 0xff0000}}
	r.Lines = []events.IndicatorLine{{Body: HQBlue, X1: 0, Y1: 0, X2: 2, Y2: 2, Color: 0x0000ff}}
	return r
}
