package world

import (
	"fmt"

	"arenareplay/engine/internal/columns"
	"arenareplay/engine/internal/events"
	"arenareplay/engine/internal/logging"
)

// ApplyDelta advances the state by one round. The delta is checked in full
// before anything is written, so a rejected delta leaves the state untouched.
func (s *State) ApplyDelta(delta *events.Round) error {
	if delta == nil {
		return fmt.Errorf("%w: nil round", ErrMalformedDelta)
	}
	if delta.Round != s.turn+1 {
		return fmt.Errorf("%w: got round %d, state is at turn %d", ErrOutOfSequence, delta.Round, s.turn)
	}
	if err := s.validate(delta); err != nil {
		return err
	}

	//1.- Team scalars are overwritten wholesale.
	for _, update := range delta.Teams {
		s.teams[s.teamIndex[update.Team]].Resources = update.Resources
	}

	//2.- Moves tolerate ids that are already gone.
	if len(delta.MovedIDs) > 0 {
		if _, err := s.bodies.table.AlterBulk(
			s.bodies.id.All(delta.MovedIDs),
			s.bodies.x.All(delta.MovedXs),
			s.bodies.y.All(delta.MovedYs),
		); err != nil {
			return s.corrupt(delta, err)
		}
	}

	//3.- Spawns land before actions so builders can target them.
	if err := s.spawn(delta.Spawned); err != nil {
		return s.corrupt(delta, err)
	}
	if len(delta.BytecodeIDs) > 0 {
		if _, err := s.bodies.table.AlterBulk(
			s.bodies.id.All(delta.BytecodeIDs),
			s.bodies.bytecodes.All(delta.BytecodesUsed),
		); err != nil {
			return s.corrupt(delta, err)
		}
	}

	//4.- Transient stores only describe the latest round.
	s.markers.table.Clear()
	s.dots.table.Clear()
	s.lines.table.Clear()
	for i, action := range delta.Actions {
		if err := s.act(delta.Round, int32(i), action); err != nil {
			return s.corrupt(delta, err)
		}
	}
	if err := s.indicate(delta); err != nil {
		return s.corrupt(delta, err)
	}

	//5.- Deaths.
	if err := s.remove(delta.DiedIDs); err != nil {
		return s.corrupt(delta, err)
	}

	//6.- Cell layers.
	for i, cell := range delta.ResourceCells {
		s.cells.Resources[cell] += delta.ResourceDeltas[i]
	}
	for _, cell := range delta.HazardCells {
		s.cells.Hazards[cell] = !s.cells.Hazards[cell]
	}

	s.cells.stale = true
	s.turn++
	return nil
}

// corrupt reports a failure after validation passed. Such a failure means the
// state no longer matches any round and must be discarded by the caller.
func (s *State) corrupt(delta *events.Round, err error) error {
	s.log.Error("round application failed after validation",
		logging.Int32("round", delta.Round),
		logging.Error(err),
	)
	return fmt.Errorf("apply round %d: %w", delta.Round, err)
}

func (s *State) validate(delta *events.Round) error {
	if err := delta.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	for _, update := range delta.Teams {
		if _, ok := s.teamIndex[update.Team]; !ok {
			return fmt.Errorf("%w: round %d updates unknown team %d", ErrMalformedDelta, delta.Round, update.Team)
		}
	}
	for i, id := range delta.MovedIDs {
		if !s.info.InBounds(delta.MovedXs[i], delta.MovedYs[i]) {
			return fmt.Errorf("%w: round %d moves body %d off the map", ErrMalformedDelta, delta.Round, id)
		}
	}
	if err := s.validateSpawns(delta.Spawned); err != nil {
		return fmt.Errorf("round %d: %w", delta.Round, err)
	}
	cells := s.info.Cells()
	for _, cell := range delta.ResourceCells {
		if cell < 0 || int(cell) >= cells {
			return fmt.Errorf("%w: round %d resource cell %d out of range", ErrMalformedDelta, delta.Round, cell)
		}
	}
	for _, cell := range delta.HazardCells {
		if cell < 0 || int(cell) >= cells {
			return fmt.Errorf("%w: round %d hazard cell %d out of range", ErrMalformedDelta, delta.Round, cell)
		}
	}
	return nil
}

func (s *State) validateSpawns(batch events.SpawnBatch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	clear(s.seen)
	for i, id := range batch.IDs {
		if _, dup := s.seen[id]; dup || s.bodies.table.Has(id) {
			return fmt.Errorf("%w: body %d spawned twice", ErrMalformedDelta, id)
		}
		s.seen[id] = struct{}{}
		if !batch.Kinds[i].Valid() {
			return fmt.Errorf("%w: body %d has kind %d", ErrMalformedDelta, id, uint8(batch.Kinds[i]))
		}
		if team := batch.Teams[i]; team != events.NeutralTeam {
			if _, ok := s.teamIndex[team]; !ok {
				return fmt.Errorf("%w: body %d joins unknown team %d", ErrMalformedDelta, id, team)
			}
		}
		if !s.info.InBounds(batch.Xs[i], batch.Ys[i]) {
			return fmt.Errorf("%w: body %d spawns off the map", ErrMalformedDelta, id)
		}
	}
	return nil
}

func (s *State) spawn(batch events.SpawnBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	b := &s.bodies
	start, err := b.table.InsertBulk(
		b.id.All(batch.IDs),
		b.team.All(batch.Teams),
		b.kind.All(batch.Kinds),
		b.x.All(batch.Xs),
		b.y.All(batch.Ys),
	)
	if err != nil {
		return err
	}
	for i, kind := range batch.Kinds {
		row := start + i
		bodyType, _ := s.meta.BodyType(kind)
		b.hp.Set(row, bodyType.MaxHP)
		b.level.Set(row, 1)
		if team := batch.Teams[i]; team != events.NeutralTeam {
			stats := &s.teams[s.teamIndex[team]]
			stats.Bodies[kind]++
			stats.Spawned++
		}
	}
	return nil
}

// act applies one action. Actions naming a body that is gone are dropped.
func (s *State) act(round, seq int32, action events.Action) error {
	b := &s.bodies
	actor := b.table.Index(action.Actor)
	if actor == columns.NotFound {
		return nil
	}
	if action.Kind == events.ActionPickup {
		b.carrying.Set(actor, b.carrying.At(actor)^1)
		return nil
	}
	switch action.Kind {
	case events.ActionAttack, events.ActionHeal, events.ActionTransfer,
		events.ActionBuild, events.ActionUpgrade, events.ActionSignal:
	default:
		s.unknownActions++
		s.log.Warn("unknown action kind",
			logging.Int32("round", round),
			logging.Int("kind", int(action.Kind)),
			logging.Int32("actor", action.Actor),
		)
		return nil
	}
	target := b.table.Index(action.Target)
	if target == columns.NotFound {
		return nil
	}

	actorType, _ := s.meta.BodyType(b.kind.At(actor))
	targetType, _ := s.meta.BodyType(b.kind.At(target))
	switch action.Kind {
	case events.ActionAttack:
		b.hp.Set(target, max(0, b.hp.At(target)-actorType.Damage))
	case events.ActionHeal:
		b.hp.Set(target, min(targetType.MaxHP, b.hp.At(target)+actorType.Heal))
	case events.ActionTransfer:
		if b.carried.At(actor) > 0 && b.carried.At(target) < targetType.CarryCapacity {
			b.carried.Add(actor, -1)
			b.carried.Add(target, 1)
		}
	case events.ActionUpgrade:
		b.level.Add(target, 1)
		return nil
	}
	return s.mark(seq, action, actor, target)
}

func (s *State) mark(seq int32, action events.Action, actor, target int) error {
	m := &s.markers
	b := &s.bodies
	_, err := m.table.Insert(
		m.seq.Is(seq),
		m.action.Is(action.Kind),
		m.actor.Is(action.Actor),
		m.target.Is(action.Target),
		m.x1.Is(b.x.At(actor)),
		m.y1.Is(b.y.At(actor)),
		m.x2.Is(b.x.At(target)),
		m.y2.Is(b.y.At(target)),
	)
	return err
}

func (s *State) indicate(delta *events.Round) error {
	for i, dot := range delta.Dots {
		if !s.bodies.table.Has(dot.Body) {
			continue
		}
		d := &s.dots
		if _, err := d.table.Insert(
			d.seq.Is(int32(i)),
			d.body.Is(dot.Body),
			d.x1.Is(dot.X), d.y1.Is(dot.Y),
			d.x2.Is(dot.X), d.y2.Is(dot.Y),
			d.color.Is(dot.Color),
		); err != nil {
			return err
		}
	}
	for i, line := range delta.Lines {
		if !s.bodies.table.Has(line.Body) {
			continue
		}
		l := &s.lines
		if _, err := l.table.Insert(
			l.seq.Is(int32(i)),
			l.body.Is(line.Body),
			l.x1.Is(line.X1), l.y1.Is(line.Y1),
			l.x2.Is(line.X2), l.y2.Is(line.Y2),
			l.color.Is(line.Color),
		); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes the listed bodies after recording their last position.
// Unknown and repeated ids are ignored.
func (s *State) remove(ids []int32) error {
	s.removed.table.Clear()
	b := &s.bodies

	clear(s.seen)
	s.dead = s.dead[:0]
	s.deadTeam = s.deadTeam[:0]
	s.deadKind = s.deadKind[:0]
	s.deadX = s.deadX[:0]
	s.deadY = s.deadY[:0]
	for _, id := range ids {
		if _, dup := s.seen[id]; dup {
			continue
		}
		row := b.table.Index(id)
		if row == columns.NotFound {
			continue
		}
		s.seen[id] = struct{}{}
		team, kind := b.team.At(row), b.kind.At(row)
		s.dead = append(s.dead, id)
		s.deadTeam = append(s.deadTeam, team)
		s.deadKind = append(s.deadKind, kind)
		s.deadX = append(s.deadX, b.x.At(row))
		s.deadY = append(s.deadY, b.y.At(row))
		if idx, ok := s.teamIndex[team]; ok && team != events.NeutralTeam {
			s.teams[idx].Bodies[kind]--
			s.teams[idx].Lost++
		}
	}
	if len(s.dead) == 0 {
		return nil
	}

	r := &s.removed
	if _, err := r.table.InsertBulk(
		r.id.All(s.dead),
		r.team.All(s.deadTeam),
		r.kind.All(s.deadKind),
		r.x.All(s.deadX),
		r.y.All(s.deadY),
	); err != nil {
		return err
	}
	b.table.DeleteBulk(s.dead)
	return nil
}
