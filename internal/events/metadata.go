package events

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMetadata flags a game header that cannot describe a game.
var ErrInvalidMetadata = errors.New("invalid game metadata")

// Metadata is the read-only view of a game header. It is built once and
// shared by every match of the game.
type Metadata struct {
	specVersion string
	teams       []Team
	teamIndex   map[int32]int
	bodyTypes   [BodyKindCount]BodyType
	declared    [BodyKindCount]bool
}

// SpecVersion reports the replay format version the game declared.
func (m *Metadata) SpecVersion() string {
	if m == nil {
		return ""
	}
	return m.specVersion
}

// Teams returns a copy of the declared teams in declaration order.
func (m *Metadata) Teams() []Team {
	if m == nil {
		return nil
	}
	return append([]Team(nil), m.teams...)
}

// Team resolves a team by id.
func (m *Metadata) Team(id int32) (Team, bool) {
	if m == nil {
		return Team{}, false
	}
	idx, ok := m.teamIndex[id]
	if !ok {
		return Team{}, false
	}
	return m.teams[idx], true
}

// BodyType resolves the static attributes of a kind. Undeclared kinds report
// false and a zero BodyType.
func (m *Metadata) BodyType(kind BodyKind) (BodyType, bool) {
	if m == nil || !kind.Valid() || !m.declared[kind] {
		return BodyType{}, false
	}
	return m.bodyTypes[kind], true
}

// MetadataBuilder accumulates header fields before freezing them into a
// Metadata value.
type MetadataBuilder struct {
	specVersion string
	teams       []Team
	bodyTypes   []BodyType
}

// NewMetadataBuilder returns an empty builder.
func NewMetadataBuilder() *MetadataBuilder {
	return &MetadataBuilder{}
}

// SpecVersion records the declared format version.
func (b *MetadataBuilder) SpecVersion(version string) *MetadataBuilder {
	b.specVersion = strings.TrimSpace(version)
	return b
}

// AddTeam appends a competitor.
func (b *MetadataBuilder) AddTeam(team Team) *MetadataBuilder {
	b.teams = append(b.teams, team)
	return b
}

// AddBodyType appends the attributes for one kind.
func (b *MetadataBuilder) AddBodyType(bodyType BodyType) *MetadataBuilder {
	b.bodyTypes = append(b.bodyTypes, bodyType)
	return b
}

// Build validates the accumulated fields and freezes them.
func (b *MetadataBuilder) Build() (*Metadata, error) {
	meta := &Metadata{
		specVersion: b.specVersion,
		teams:       make([]Team, 0, len(b.teams)),
		teamIndex:   make(map[int32]int, len(b.teams)),
	}
	for _, team := range b.teams {
		if team.ID == NeutralTeam {
			return nil, fmt.Errorf("%w: team %q uses the neutral id", ErrInvalidMetadata, team.Name)
		}
		if _, dup := meta.teamIndex[team.ID]; dup {
			return nil, fmt.Errorf("%w: team id %d declared twice", ErrInvalidMetadata, team.ID)
		}
		meta.teamIndex[team.ID] = len(meta.teams)
		meta.teams = append(meta.teams, team)
	}
	for _, bodyType := range b.bodyTypes {
		if !bodyType.Kind.Valid() {
			return nil, fmt.Errorf("%w: body kind %d", ErrInvalidMetadata, uint8(bodyType.Kind))
		}
		if meta.declared[bodyType.Kind] {
			return nil, fmt.Errorf("%w: body kind %s declared twice", ErrInvalidMetadata, bodyType.Kind)
		}
		if bodyType.MaxHP < 0 || bodyType.InfluenceRadius < 0 || bodyType.CarryCapacity < 0 {
			return nil, fmt.Errorf("%w: body kind %s has negative attributes", ErrInvalidMetadata, bodyType.Kind)
		}
		meta.bodyTypes[bodyType.Kind] = bodyType
		meta.declared[bodyType.Kind] = true
	}
	return meta, nil
}

// MetadataFromHeader builds metadata from a decoded game header.
func MetadataFromHeader(header GameHeader) (*Metadata, error) {
	builder := NewMetadataBuilder().SpecVersion(header.SpecVersion)
	for _, team := range header.Teams {
		builder.AddTeam(team)
	}
	for _, bodyType := range header.BodyTypes {
		builder.AddBodyType(bodyType)
	}
	return builder.Build()
}
