package feature

import (
	"testing"

	"wallandshadow.io/internal/maps/grid"
)

func TestTokenShapes(t *testing.T) {
	cases := []struct {
		ty           grid.Type
		size         TokenSize
		faces, edges int
	}{
		{grid.Square, Size1, 1, 0},
		{grid.Square, Size2, 4, 4},
		{grid.Square, Size2Left, 4, 4},
		{grid.Square, Size3, 9, 12},
		{grid.Square, Size4, 12, 16},
		{grid.Hex, Size1, 1, 0},
		{grid.Hex, Size2, 3, 3},
		{grid.Hex, Size2Left, 3, 3},
		{grid.Hex, Size3, 7, 12},
		{grid.Hex, Size4, 12, 24},
		{grid.Hex, Size4Left, 12, 24},
		{grid.Hex, "bogus", 1, 0},
	}
	for _, tc := range cases {
		g := TokenGeometryFor(tc.ty)
		tok := Token{Position: grid.Coord{X: 4, Y: -2}, Size: tc.size}
		faces := g.Faces(tok)
		edges := g.FillEdges(tok)
		if len(faces) != tc.faces || len(edges) != tc.edges {
			t.Fatalf("%s %q: %d faces, %d edges; want %d, %d", tc.ty, tc.size, len(faces), len(edges), tc.faces, tc.edges)
		}
		if faces[0] != tok.Position {
			t.Fatalf("%s %q: first face %v is not the anchor", tc.ty, tc.size, faces[0])
		}
		seenF := map[grid.Coord]bool{}
		for _, f := range faces {
			if seenF[f] {
				t.Fatalf("%s %q: face %v listed twice", tc.ty, tc.size, f)
			}
			seenF[f] = true
		}
		seenE := map[grid.Edge]bool{}
		for _, e := range edges {
			if seenE[e] {
				t.Fatalf("%s %q: edge %v listed twice", tc.ty, tc.size, e)
			}
			seenE[e] = true
		}
	}
}

func TestTokensOccupyEveryFace(t *testing.T) {
	for _, ty := range []grid.Type{grid.Square, grid.Hex} {
		g := TokenGeometryFor(ty)
		for _, size := range []TokenSize{Size2, Size3, Size4} {
			ts := NewTokens(g)
			big := Token{ID: "big", Position: grid.Coord{X: 10, Y: 10}, Size: size}
			if !ts.Add(big) {
				t.Fatalf("%s %s: add failed", ty, size)
			}
			for _, f := range g.Faces(big) {
				if got, ok := ts.At(f); !ok || got.ID != "big" {
					t.Fatalf("%s %s: At(%v) = %+v, %v", ty, size, f, got, ok)
				}
				if ts.Add(Token{Position: f, Size: Size1}) {
					t.Fatalf("%s %s: small token accepted on covered face %v", ty, size, f)
				}
			}
			for _, e := range g.FillEdges(big) {
				if !ts.HasFillEdge(e) {
					t.Fatalf("%s %s: fill edge %v not indexed", ty, size, e)
				}
			}

			c := ts.Clone()
			ts.Remove(big.Position)
			for _, f := range g.Faces(big) {
				if _, ok := ts.At(f); ok {
					t.Fatalf("%s %s: face %v still covered after remove", ty, size, f)
				}
			}
			if len(g.FillEdges(big)) > 0 && ts.HasFillEdge(g.FillEdges(big)[0]) {
				t.Fatalf("%s %s: fill edge kept after remove", ty, size)
			}
			if _, ok := c.At(g.Faces(big)[1]); !ok {
				t.Fatalf("%s %s: clone lost the token", ty, size)
			}
		}
	}
}

func TestTokensRejectPartialOverlap(t *testing.T) {
	ts := NewTokens(TokenGeometryFor(grid.Square))
	if !ts.Add(Token{ID: "a", Position: grid.Coord{X: 0, Y: 0}, Size: Size3}) {
		t.Fatalf("add a failed")
	}
	// (2,2) size 2 reaches back to (1,1), the corner of a.
	if ts.Add(Token{ID: "b", Position: grid.Coord{X: 2, Y: 2}, Size: Size2}) {
		t.Fatalf("overlapping token accepted")
	}
	if _, ok := ts.ByID("b"); ok || ts.Len() != 1 {
		t.Fatalf("refused add left state behind")
	}
	if !ts.Add(Token{ID: "b", Position: grid.Coord{X: 3, Y: 3}, Size: Size2}) {
		t.Fatalf("adjacent token refused")
	}
}
