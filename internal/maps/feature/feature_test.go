package feature

import (
	"testing"

	"wallandshadow.io/internal/maps/grid"
)

func TestParseTokenSize(t *testing.T) {
	cases := map[string]TokenSize{
		"1":         Size1,
		"2 (left)":  Size2Left,
		"4 (right)": Size4Right,
		"3":         Size3,
		"3 (left)":  Size1,
		"5":         Size1,
		"":          Size1,
		"2 (up)":    Size1,
	}
	for in, want := range cases {
		if got := ParseTokenSize(in); got != want {
			t.Fatalf("ParseTokenSize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDictRejectsOccupiedKey(t *testing.T) {
	d := NewAreas()
	if !d.Add(Area{Position: grid.Coord{X: 1, Y: 1}, Colour: 1}) {
		t.Fatalf("first add failed")
	}
	if d.Add(Area{Position: grid.Coord{X: 1, Y: 1}, Colour: 2}) {
		t.Fatalf("second add at the same face succeeded")
	}
	if a, _ := d.Get(grid.Coord{X: 1, Y: 1}); a.Colour != 1 {
		t.Fatalf("area was overwritten: %+v", a)
	}
	if _, ok := d.Remove(grid.Coord{X: 1, Y: 1}); !ok {
		t.Fatalf("remove failed")
	}
	if _, ok := d.Remove(grid.Coord{X: 1, Y: 1}); ok {
		t.Fatalf("second remove succeeded")
	}
}

func TestDictValuesSortedAndCloneIndependent(t *testing.T) {
	d := NewWalls()
	d.Add(Wall{Position: grid.Edge{X: 2, Y: 1, Index: 0}})
	d.Add(Wall{Position: grid.Edge{X: 0, Y: 1, Index: 1}})
	d.Add(Wall{Position: grid.Edge{X: 0, Y: 1, Index: 0}})
	d.Add(Wall{Position: grid.Edge{X: 5, Y: 0, Index: 0}})

	want := []grid.Edge{{X: 5, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 1, Index: 1}, {X: 2, Y: 1}}
	got := d.Values()
	if len(got) != len(want) {
		t.Fatalf("len: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Position != want[i] {
			t.Fatalf("value %d: got %v want %v", i, got[i].Position, want[i])
		}
	}

	c := d.Clone()
	c.Remove(grid.Edge{X: 5, Y: 0})
	if d.Len() != 4 || c.Len() != 3 {
		t.Fatalf("clone shares storage: original=%d clone=%d", d.Len(), c.Len())
	}
}

func TestTokensUniqueID(t *testing.T) {
	ts := NewTokens(TokenGeometryFor(grid.Square))
	if !ts.Add(Token{ID: "a", Position: grid.Coord{X: 0, Y: 0}}) {
		t.Fatalf("add a failed")
	}
	if ts.Add(Token{ID: "a", Position: grid.Coord{X: 1, Y: 0}}) {
		t.Fatalf("duplicate id accepted")
	}
	if ts.Add(Token{ID: "b", Position: grid.Coord{X: 0, Y: 0}}) {
		t.Fatalf("occupied face accepted")
	}
	if tok, ok := ts.ByID("a"); !ok || tok.Position != (grid.Coord{}) {
		t.Fatalf("ByID(a) = %+v, %v", tok, ok)
	}
	ts.Remove(grid.Coord{})
	if _, ok := ts.ByID("a"); ok {
		t.Fatalf("id index kept a removed token")
	}
	if !ts.Add(Token{ID: "a", Position: grid.Coord{X: 3, Y: 3}}) {
		t.Fatalf("re-adding a freed id failed")
	}
}

func TestCanDoAnything(t *testing.T) {
	m := Map{Owner: "owner"}
	if !m.CanDoAnything("owner") || m.CanDoAnything("player") {
		t.Fatalf("non-FFA map: owner only")
	}
	m.FFA = true
	if !m.CanDoAnything("player") {
		t.Fatalf("FFA map should let anyone edit")
	}
}
