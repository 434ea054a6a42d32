package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"arenareplay/engine/internal/columns"
)

// Digest hashes every deterministic part of the state. Two states reached
// through different seek paths to the same round hash identically.
func (s *State) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteI64(h, &tmp, int64(s.turn))
	s.digestBodies(h, &tmp)
	s.digestRemoved(h, &tmp)
	s.digestMarkers(h, &tmp)
	for _, team := range s.teams {
		digestWriteI64(h, &tmp, int64(team.Team))
		for _, v := range team.Resources {
			digestWriteI64(h, &tmp, int64(v))
		}
		for _, v := range team.Bodies {
			digestWriteI64(h, &tmp, int64(v))
		}
		digestWriteI64(h, &tmp, int64(team.Spawned))
		digestWriteI64(h, &tmp, int64(team.Lost))
	}
	for _, v := range s.cells.Resources {
		digestWriteI64(h, &tmp, int64(v))
	}
	for _, v := range s.cells.Hazards {
		h.Write([]byte{boolByte(v)})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *State) digestBodies(h hash.Hash, tmp *[8]byte) {
	b := &s.bodies
	for _, row := range sortedRows(b.table, b.id) {
		digestWriteI64(h, tmp, int64(b.id.At(row)))
		digestWriteI64(h, tmp, int64(b.team.At(row)))
		digestWriteI64(h, tmp, int64(b.kind.At(row)))
		digestWriteI64(h, tmp, int64(b.x.At(row)))
		digestWriteI64(h, tmp, int64(b.y.At(row)))
		digestWriteI64(h, tmp, int64(b.hp.At(row)))
		digestWriteI64(h, tmp, int64(b.level.At(row)))
		digestWriteI64(h, tmp, int64(b.carried.At(row)))
		digestWriteI64(h, tmp, int64(b.carrying.At(row)))
		digestWriteI64(h, tmp, int64(b.bytecodes.At(row)))
	}
}

func (s *State) digestRemoved(h hash.Hash, tmp *[8]byte) {
	r := &s.removed
	for _, row := range sortedRows(r.table, r.id) {
		digestWriteI64(h, tmp, int64(r.id.At(row)))
		digestWriteI64(h, tmp, int64(r.x.At(row)))
		digestWriteI64(h, tmp, int64(r.y.At(row)))
	}
}

func (s *State) digestMarkers(h hash.Hash, tmp *[8]byte) {
	m := &s.markers
	for row := 0; row < m.table.Len(); row++ {
		digestWriteI64(h, tmp, int64(m.seq.At(row)))
		digestWriteI64(h, tmp, int64(m.action.At(row)))
		digestWriteI64(h, tmp, int64(m.actor.At(row)))
		digestWriteI64(h, tmp, int64(m.target.At(row)))
	}
	digestWriteI64(h, tmp, int64(s.dots.table.Len()))
	digestWriteI64(h, tmp, int64(s.lines.table.Len()))
}

func sortedRows(table *columns.Table, key columns.KeyColumn) []int {
	rows := make([]int, table.Len())
	for i := range rows {
		rows[i] = i
	}
	sort.Slice(rows, func(i, j int) bool { return key.At(rows[i]) < key.At(rows[j]) })
	return rows
}

func digestWriteI64(h hash.Hash, tmp *[8]byte, v int64) {
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	h.Write(tmp[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
