// Package tracking validates and applies change batches against the in-memory
// state of one map.
//
// A batch is applied in two passes. The first pass performs every removal,
// including the source half of each token move; the second performs every add
// and move destination. This lets the owner swap two tokens in one batch. Each
// step records how to undo itself, and any failure unwinds the whole batch in
// reverse, so a rejected batch leaves no trace.
package tracking

import (
	"github.com/google/uuid"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/colouring"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
	"wallandshadow.io/internal/maps/policy"
)

// WallValidator replaces the default owner check for wall changes.
type WallValidator func(m feature.Map, uid string, ch change.Change) bool

type Config struct {
	// Grid picks the token shapes used for occupancy. The zero value is square.
	Grid grid.Type
	// Colouring, when set, is kept in step with the walls and used to keep a
	// non-owner's token moves inside one region.
	Colouring *colouring.Colouring
	// Limits, when set, refuses any add that takes the object count past Objects.
	Limits *policy.Limits

	WallValidator WallValidator

	// Replay skips authorization and connectivity checks. Structural checks
	// still apply.
	Replay bool

	OnApplied func(tokensChanged bool, objectCount int)
	OnAborted func()
}

type Tracker struct {
	Areas         *feature.Dict[grid.Coord, feature.Area]
	PlayerAreas   *feature.Dict[grid.Coord, feature.Area]
	Tokens        *feature.Tokens
	OutlineTokens *feature.Tokens
	Walls         *feature.Dict[grid.Edge, feature.Wall]
	Notes         *feature.Dict[grid.Coord, feature.Note]
	Images        *feature.Dict[string, feature.Image]

	cfg           Config
	objectCount   int
	tokensChanged bool
}

func New(cfg Config) *Tracker {
	geo := feature.TokenGeometryFor(cfg.Grid)
	return &Tracker{
		Areas:         feature.NewAreas(),
		PlayerAreas:   feature.NewAreas(),
		Tokens:        feature.NewTokens(geo),
		OutlineTokens: feature.NewTokens(geo),
		Walls:         feature.NewWalls(),
		Notes:         feature.NewNotes(),
		Images:        feature.NewImages(),
		cfg:           cfg,
	}
}

func (t *Tracker) ObjectCount() int { return t.objectCount }

func (t *Tracker) Colouring() *colouring.Colouring { return t.cfg.Colouring }

// ValidateWallChanges checks wall-only changes against a scratch copy of the
// walls, with no colouring. The token layers are shared read-only so walls
// through tokens are still refused. The tracker itself is not touched.
func (t *Tracker) ValidateWallChanges(m feature.Map, chs []change.Change, uid string, validator WallValidator) bool {
	if !change.WallsOnly(chs) {
		return false
	}
	scratch := New(Config{Grid: t.cfg.Grid, WallValidator: validator})
	scratch.Tokens = t.Tokens
	scratch.OutlineTokens = t.OutlineTokens
	scratch.Walls = t.Walls.Clone()
	scratch.objectCount = t.Walls.Len()
	return TrackChanges(m, scratch, chs, uid)
}

// GetConsolidated returns one Add per feature held, in a fixed order: areas,
// player areas, tokens, outline tokens, walls, notes, images. Tokens without
// an id are given one.
func (t *Tracker) GetConsolidated() []change.Change {
	var all []change.Change
	for _, f := range t.Areas.Values() {
		all = append(all, change.AreaAdd{Feature: f})
	}
	for _, f := range t.PlayerAreas.Values() {
		all = append(all, change.PlayerAreaAdd{Feature: f})
	}
	for _, layer := range []*feature.Tokens{t.Tokens, t.OutlineTokens} {
		for _, f := range layer.Values() {
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
			all = append(all, change.TokenAdd{Feature: f})
		}
	}
	for _, f := range t.Walls.Values() {
		all = append(all, change.WallAdd{Feature: f})
	}
	for _, f := range t.Notes.Values() {
		all = append(all, change.NoteAdd{Feature: f})
	}
	for _, f := range t.Images.Values() {
		all = append(all, change.ImageAdd{Feature: f})
	}
	return all
}

func (t *Tracker) changesApplied() {
	if c := t.cfg.Colouring; c != nil {
		c.Recalculate()
	}
	if t.cfg.OnApplied != nil {
		t.cfg.OnApplied(t.tokensChanged, t.objectCount)
	}
	t.tokensChanged = false
}

func (t *Tracker) changesAborted() {
	if t.cfg.OnAborted != nil {
		t.cfg.OnAborted()
	}
	t.tokensChanged = false
}

// count accepts a successful add unless it breaks the object cap, in which case
// undo is called and the add is refused.
func (t *Tracker) count(undo func()) bool {
	t.objectCount++
	if t.cfg.Limits != nil && t.objectCount > t.cfg.Limits.Objects {
		undo()
		t.objectCount--
		return false
	}
	return true
}

func add[K comparable, F any](t *Tracker, d *feature.Dict[K, F], k K, f F) bool {
	if !d.Add(f) {
		return false
	}
	return t.count(func() { d.Remove(k) })
}

func remove[K comparable, F any](t *Tracker, d *feature.Dict[K, F], k K) (F, bool) {
	f, ok := d.Remove(k)
	if ok {
		t.objectCount--
	}
	return f, ok
}

// wallAdd refuses a wall that would cut through a token on either layer.
func (t *Tracker) wallAdd(f feature.Wall) bool {
	if t.Tokens.HasFillEdge(f.Position) || t.OutlineTokens.HasFillEdge(f.Position) {
		return false
	}
	if !add(t, t.Walls, f.Position, f) {
		return false
	}
	if c := t.cfg.Colouring; c != nil {
		c.SetWall(f.Position, true)
	}
	return true
}

func (t *Tracker) wallRemove(e grid.Edge) (feature.Wall, bool) {
	f, ok := remove(t, t.Walls, e)
	if ok {
		if c := t.cfg.Colouring; c != nil {
			c.SetWall(e, false)
		}
	}
	return f, ok
}

func (t *Tracker) layer(outline bool) *feature.Tokens {
	if outline {
		return t.OutlineTokens
	}
	return t.Tokens
}

// tokenAdd places a token. For a move, from is the face it left; a non-owner
// may then only land in the same region.
func (t *Tracker) tokenAdd(m feature.Map, uid string, tok feature.Token, from *grid.Coord) bool {
	if tok.ID != "" {
		if _, taken := t.layer(!tok.Outline).ByID(tok.ID); taken {
			return false
		}
	}
	if c := t.cfg.Colouring; c != nil && from != nil && !t.cfg.Replay && !m.CanDoAnything(uid) {
		if c.ColourOf(tok.Position) != c.ColourOf(*from) {
			return false
		}
	}
	layer := t.layer(tok.Outline)
	for _, e := range layer.FillEdges(tok) {
		if _, walled := t.Walls.Get(e); walled {
			return false
		}
	}
	if !layer.Add(tok) {
		return false
	}
	if !t.count(func() { layer.Remove(tok.Position) }) {
		return false
	}
	t.tokensChanged = true
	return true
}

// tokenRemove removes the token with the given id at pos from whichever layer
// holds it. It fails if neither layer or both layers match.
func (t *Tracker) tokenRemove(pos grid.Coord, id string) (feature.Token, bool) {
	var match *feature.Tokens
	for _, layer := range []*feature.Tokens{t.Tokens, t.OutlineTokens} {
		if tok, ok := layer.Get(pos); ok && tok.ID == id {
			if match != nil {
				return feature.Token{}, false
			}
			match = layer
		}
	}
	if match == nil {
		return feature.Token{}, false
	}
	tok, _ := match.Remove(pos)
	t.objectCount--
	t.tokensChanged = true
	return tok, true
}

// dropToken takes back a token this batch placed. It goes straight to the
// token's own layer, so an id-less twin on the other layer cannot confuse it.
func (t *Tracker) dropToken(tok feature.Token) {
	if _, ok := t.layer(tok.Outline).Remove(tok.Position); ok {
		t.objectCount--
	}
}

// restoreToken puts back a token this batch removed. Undos run in reverse, so
// the token's faces are free again and no checks are needed.
func (t *Tracker) restoreToken(tok feature.Token) {
	if t.layer(tok.Outline).Add(tok) {
		t.objectCount++
	}
}
