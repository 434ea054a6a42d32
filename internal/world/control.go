package world

import "arenareplay/engine/internal/events"

// RecomputeIfStale rebuilds the control layer when a round has been applied
// since the last computation. It reports whether work was done.
func (s *State) RecomputeIfStale() bool {
	if !s.cells.stale {
		return false
	}
	s.recomputeControl()
	s.cells.stale = false
	return true
}

// ControlStale reports whether the control layer needs a recompute.
func (s *State) ControlStale() bool { return s.cells.stale }

// Control returns the owning team and its margin over the runner-up for a
// cell. Ties and uncontested cells belong to the neutral team.
func (s *State) Control(x, y int32) (owner int32, strength int32) {
	s.RecomputeIfStale()
	cell := s.cellIndex(x, y)
	return s.cells.owner[cell], s.cells.strength[cell]
}

// recomputeControl sums, per cell, r*r - d*d for every influencing body of
// each team within radius r, then keeps the leading team and its margin.
func (s *State) recomputeControl() {
	cells := s.info.Cells()
	if cap(s.cells.owner) < cells {
		s.cells.owner = make([]int32, cells)
		s.cells.strength = make([]int32, cells)
	}
	s.cells.owner = s.cells.owner[:cells]
	s.cells.strength = s.cells.strength[:cells]
	clear(s.cells.owner)
	clear(s.cells.strength)

	teams := len(s.teams)
	if teams == 0 {
		return
	}
	totals := make([]int32, cells*teams)

	b := &s.bodies
	width, height := s.info.Width, s.info.Height
	for row := 0; row < b.table.Len(); row++ {
		team := b.team.At(row)
		idx, ok := s.teamIndex[team]
		if !ok || team == events.NeutralTeam {
			continue
		}
		bodyType, _ := s.meta.BodyType(b.kind.At(row))
		radius := bodyType.InfluenceRadius
		if radius <= 0 {
			continue
		}
		cx, cy := b.x.At(row), b.y.At(row)
		r2 := radius * radius
		for y := max(0, cy-radius); y <= min(height-1, cy+radius); y++ {
			for x := max(0, cx-radius); x <= min(width-1, cx+radius); x++ {
				dx, dy := x-cx, y-cy
				d2 := dx*dx + dy*dy
				if d2 > r2 {
					continue
				}
				totals[(int(y)*int(width)+int(x))*teams+idx] += r2 - d2
			}
		}
	}

	for cell := 0; cell < cells; cell++ {
		var best, second int32
		leader := -1
		for idx, total := range totals[cell*teams : (cell+1)*teams] {
			switch {
			case total > best:
				second = best
				best = total
				leader = idx
			case total > second:
				second = total
			}
		}
		if leader < 0 || best == second {
			continue
		}
		s.cells.owner[cell] = s.teams[leader].Team
		s.cells.strength[cell] = best - second
	}
}
