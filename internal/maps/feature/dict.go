package feature

import (
	"cmp"
	"maps"
	"slices"

	"wallandshadow.io/internal/maps/grid"
)

// Dict holds at most one feature per key.
type Dict[K comparable, F any] struct {
	key     func(F) K
	compare func(a, b K) int
	m       map[K]F
}

func NewDict[K comparable, F any](key func(F) K, compare func(a, b K) int) *Dict[K, F] {
	return &Dict[K, F]{key: key, compare: compare, m: map[K]F{}}
}

func NewAreas() *Dict[grid.Coord, Area] {
	return NewDict(func(a Area) grid.Coord { return a.Position }, grid.CompareCoord)
}

func NewWalls() *Dict[grid.Edge, Wall] {
	return NewDict(func(w Wall) grid.Edge { return w.Position }, grid.CompareEdge)
}

func NewNotes() *Dict[grid.Coord, Note] {
	return NewDict(func(n Note) grid.Coord { return n.Position }, grid.CompareCoord)
}

func NewImages() *Dict[string, Image] {
	return NewDict(func(i Image) string { return i.ID }, cmp.Compare[string])
}

// Add stores f unless its key is already taken.
func (d *Dict[K, F]) Add(f F) bool {
	k := d.key(f)
	if _, ok := d.m[k]; ok {
		return false
	}
	d.m[k] = f
	return true
}

func (d *Dict[K, F]) Remove(k K) (F, bool) {
	f, ok := d.m[k]
	if ok {
		delete(d.m, k)
	}
	return f, ok
}

func (d *Dict[K, F]) Get(k K) (F, bool) {
	f, ok := d.m[k]
	return f, ok
}

func (d *Dict[K, F]) Len() int { return len(d.m) }

func (d *Dict[K, F]) Clear() { clear(d.m) }

// Clone is shallow: features are copied by value, slices inside them are shared.
func (d *Dict[K, F]) Clone() *Dict[K, F] {
	return &Dict[K, F]{key: d.key, compare: d.compare, m: maps.Clone(d.m)}
}

// Values returns every feature ordered by key.
func (d *Dict[K, F]) Values() []F {
	keys := slices.SortedFunc(maps.Keys(d.m), d.compare)
	out := make([]F, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.m[k])
	}
	return out
}

// Tokens is one layer of tokens. Tokens are keyed by their anchor position,
// but a large token also occupies every face its geometry covers, and no two
// tokens in a layer may share a face or an id.
type Tokens struct {
	*Dict[grid.Coord, Token]
	geometry TokenGeometry
	byID     map[string]grid.Coord
	// faces and fillEdges map each covered position to the owning anchor.
	faces     map[grid.Coord]grid.Coord
	fillEdges map[grid.Edge]grid.Coord
}

func NewTokens(g TokenGeometry) *Tokens {
	return &Tokens{
		Dict:      NewDict(func(t Token) grid.Coord { return t.Position }, grid.CompareCoord),
		geometry:  g,
		byID:      map[string]grid.Coord{},
		faces:     map[grid.Coord]grid.Coord{},
		fillEdges: map[grid.Edge]grid.Coord{},
	}
}

// Add places tok unless its id is taken or any face it covers is occupied.
func (t *Tokens) Add(tok Token) bool {
	if tok.ID != "" {
		if _, ok := t.byID[tok.ID]; ok {
			return false
		}
	}
	faces := t.geometry.Faces(tok)
	for _, f := range faces {
		if _, ok := t.faces[f]; ok {
			return false
		}
	}
	if !t.Dict.Add(tok) {
		return false
	}
	for _, f := range faces {
		t.faces[f] = tok.Position
	}
	for _, e := range t.geometry.FillEdges(tok) {
		t.fillEdges[e] = tok.Position
	}
	if tok.ID != "" {
		t.byID[tok.ID] = tok.Position
	}
	return true
}

// Remove takes away the token anchored at pos.
func (t *Tokens) Remove(pos grid.Coord) (Token, bool) {
	tok, ok := t.Dict.Remove(pos)
	if !ok {
		return tok, false
	}
	for _, f := range t.geometry.Faces(tok) {
		delete(t.faces, f)
	}
	for _, e := range t.geometry.FillEdges(tok) {
		delete(t.fillEdges, e)
	}
	if tok.ID != "" {
		delete(t.byID, tok.ID)
	}
	return tok, true
}

// At returns the token covering face, which need not be anchored there.
func (t *Tokens) At(face grid.Coord) (Token, bool) {
	anchor, ok := t.faces[face]
	if !ok {
		return Token{}, false
	}
	return t.Get(anchor)
}

// HasFillEdge reports whether e lies inside a token of this layer.
func (t *Tokens) HasFillEdge(e grid.Edge) bool {
	_, ok := t.fillEdges[e]
	return ok
}

// FillEdges lists the fill edges tok would have in this layer.
func (t *Tokens) FillEdges(tok Token) []grid.Edge { return t.geometry.FillEdges(tok) }

// ByID finds a token by its id.
func (t *Tokens) ByID(id string) (Token, bool) {
	pos, ok := t.byID[id]
	if !ok {
		return Token{}, false
	}
	return t.Get(pos)
}

func (t *Tokens) Clear() {
	t.Dict.Clear()
	clear(t.byID)
	clear(t.faces)
	clear(t.fillEdges)
}

func (t *Tokens) Clone() *Tokens {
	return &Tokens{
		Dict:      t.Dict.Clone(),
		geometry:  t.geometry,
		byID:      maps.Clone(t.byID),
		faces:     maps.Clone(t.faces),
		fillEdges: maps.Clone(t.fillEdges),
	}
}
