package tracking

import (
	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
)

// step is a change that passed the first pass. finish runs the second pass and
// returns its own undo; undo reverts the first pass.
type step struct {
	undo   func()
	finish func() (func(), bool)
}

func nop() {}

func finished() (func(), bool) { return nop, true }

// TrackChanges applies a batch made by uid to t, all or nothing. Exactly one of
// the tracker's callbacks fires. The result reports whether the batch applied.
func TrackChanges(m feature.Map, t *Tracker, chs []change.Change, uid string) bool {
	steps := make([]step, 0, len(chs))
	for _, ch := range chs {
		s, ok := t.begin(m, ch, uid)
		if !ok {
			unwind(steps)
			t.changesAborted()
			return false
		}
		steps = append(steps, s)
	}

	undos := make([]func(), 0, len(steps))
	for _, s := range steps {
		undo, ok := s.finish()
		if !ok {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
			unwind(steps)
			t.changesAborted()
			return false
		}
		undos = append(undos, undo)
	}

	t.changesApplied()
	return true
}

func unwind(steps []step) {
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i].undo()
	}
}

// Replay applies a batch without authorization or connectivity checks, as the
// consolidator does for batches that were validated when they were written.
func Replay(m feature.Map, t *Tracker, b change.Batch) bool {
	replay := t.cfg.Replay
	t.cfg.Replay = true
	defer func() { t.cfg.Replay = replay }()
	return TrackChanges(m, t, b.Changes, b.User)
}

func (t *Tracker) allowed(m feature.Map, uid string) bool {
	return t.cfg.Replay || m.CanDoAnything(uid)
}

func (t *Tracker) wallAllowed(m feature.Map, uid string, ch change.Change) bool {
	switch {
	case t.cfg.Replay:
		return true
	case t.cfg.WallValidator != nil:
		return t.cfg.WallValidator(m, uid, ch)
	}
	return m.CanDoAnything(uid)
}

// addStep defers an add to the second pass.
func addStep(apply func() bool, undo func()) step {
	return step{
		undo: nop,
		finish: func() (func(), bool) {
			if !apply() {
				return nil, false
			}
			return undo, true
		},
	}
}

func dictAdd[K comparable, F any](t *Tracker, d *feature.Dict[K, F], k K, f F) step {
	return addStep(
		func() bool { return add(t, d, k, f) },
		func() { remove(t, d, k) },
	)
}

func dictRemove[K comparable, F any](t *Tracker, d *feature.Dict[K, F], k K) (step, bool) {
	f, ok := remove(t, d, k)
	if !ok {
		return step{}, false
	}
	return step{undo: func() { add(t, d, k, f) }, finish: finished}, true
}

func (t *Tracker) begin(m feature.Map, ch change.Change, uid string) (step, bool) {
	switch c := ch.(type) {
	case change.AreaAdd:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictAdd(t, t.Areas, c.Feature.Position, c.Feature), true
	case change.AreaRemove:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictRemove(t, t.Areas, c.Position)

	case change.PlayerAreaAdd:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictAdd(t, t.PlayerAreas, c.Feature.Position, c.Feature), true
	case change.PlayerAreaRemove:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictRemove(t, t.PlayerAreas, c.Position)

	case change.NoteAdd:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictAdd(t, t.Notes, c.Feature.Position, c.Feature), true
	case change.NoteRemove:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictRemove(t, t.Notes, c.Position)

	case change.ImageAdd:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictAdd(t, t.Images, c.Feature.ID, c.Feature), true
	case change.ImageRemove:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return dictRemove(t, t.Images, c.ID)

	case change.WallAdd:
		if !t.wallAllowed(m, uid, ch) {
			return step{}, false
		}
		return addStep(
			func() bool { return t.wallAdd(c.Feature) },
			func() { t.wallRemove(c.Feature.Position) },
		), true
	case change.WallRemove:
		if !t.wallAllowed(m, uid, ch) {
			return step{}, false
		}
		removed, ok := t.wallRemove(c.Position)
		if !ok {
			return step{}, false
		}
		return step{undo: func() { t.wallAdd(removed) }, finish: finished}, true

	case change.TokenAdd:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		return addStep(
			func() bool { return t.tokenAdd(m, uid, c.Feature, nil) },
			func() { t.dropToken(c.Feature) },
		), true
	case change.TokenRemove:
		if !t.allowed(m, uid) {
			return step{}, false
		}
		removed, ok := t.tokenRemove(c.Position, c.TokenID)
		if !ok {
			return step{}, false
		}
		return step{undo: func() { t.restoreToken(removed) }, finish: finished}, true
	case change.TokenMove:
		return t.beginMove(m, c, uid)
	}
	return step{}, false
}

func (t *Tracker) beginMove(m feature.Map, c change.TokenMove, uid string) (step, bool) {
	moved, ok := t.tokenRemove(c.OldPosition, c.TokenID)
	if !ok {
		return step{}, false
	}
	return step{
		undo: func() { t.restoreToken(moved) },
		finish: func() (func(), bool) {
			if !t.allowed(m, uid) && !moved.ControlledBy(uid) {
				return nil, false
			}
			dest := moved
			dest.Position = c.NewPosition
			from := c.OldPosition
			if !t.tokenAdd(m, uid, dest, &from) {
				return nil, false
			}
			return func() { t.dropToken(dest) }, true
		},
	}, true
}
