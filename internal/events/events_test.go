package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMetadataBuilderFreezesHeader(t *testing.T) {
	header := GameHeader{
		SpecVersion: "1.2",
		Teams:       []Team{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}},
		BodyTypes:   []BodyType{{Kind: BodySoldier, MaxHP: 50, Damage: 10}},
	}
	meta, err := MetadataFromHeader(header)
	if err != nil {
		t.Fatalf("build metadata: %v", err)
	}
	header.Teams[0].Name = "mutated"
	if team, ok := meta.Team(1); !ok || team.Name != "A" {
		t.Fatalf("metadata shares header storage: %+v", team)
	}
	teams := meta.Teams()
	teams[1].Name = "mutated"
	if team, _ := meta.Team(2); team.Name != "B" {
		t.Fatalf("Teams leaked internal slice")
	}
	if bt, ok := meta.BodyType(BodySoldier); !ok || bt.MaxHP != 50 {
		t.Fatalf("unexpected soldier type %+v", bt)
	}
	if _, ok := meta.BodyType(BodyMedic); ok {
		t.Fatalf("undeclared kind must not resolve")
	}
}

func TestMetadataBuilderRejectsBadHeaders(t *testing.T) {
	_, err := NewMetadataBuilder().AddTeam(Team{ID: NeutralTeam}).Build()
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata for neutral team, got %v", err)
	}
	_, err = NewMetadataBuilder().AddTeam(Team{ID: 1}).AddTeam(Team{ID: 1}).Build()
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata for duplicate team, got %v", err)
	}
	_, err = NewMetadataBuilder().AddBodyType(BodyType{Kind: BodyKindCount}).Build()
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata for unknown kind, got %v", err)
	}
}

func TestRoundValidateChecksParallelArrays(t *testing.T) {
	round := &Round{Round: 1, MovedIDs: []int32{1, 2}, MovedXs: []int32{0}, MovedYs: []int32{0, 0}}
	if err := round.Validate(); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	round = &Round{Round: 1, Spawned: SpawnBatch{IDs: []int32{1}}}
	if err := round.Validate(); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord for spawn batch, got %v", err)
	}
	if err := (&Round{Round: 3}).Validate(); err != nil {
		t.Fatalf("empty round rejected: %v", err)
	}
}

func TestEnvelopeJSONUsesKindNames(t *testing.T) {
	env := MatchHeaderEvent(MatchHeader{
		Width:  2,
		Height: 2,
		Bodies: SpawnBatch{IDs: []int32{1}, Teams: []int32{1}, Kinds: []BodyKind{BodyTower}, Xs: []int32{0}, Ys: []int32{1}},
	})
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("decoded envelope invalid: %v", err)
	}
	if decoded.MatchHeader.Bodies.Kinds[0] != BodyTower {
		t.Fatalf("expected tower kind, got %v", decoded.MatchHeader.Bodies.Kinds[0])
	}

	bad := Envelope{Kind: KindRound, GameFooter: &GameFooter{}}
	if err := bad.Validate(); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord for mismatched payload, got %v", err)
	}
}
