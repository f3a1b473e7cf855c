package grid

import "testing"

func TestAdjacencyMatchesEdgeFaces(t *testing.T) {
	for _, ty := range []Type{Hex, Square} {
		topo := For(ty)
		c := Coord{X: 2, Y: -3}
		adj := topo.AdjacentFaces(c)
		if len(adj) != 2*topo.EdgesPerFace() {
			t.Fatalf("%s: got %d neighbours", ty, len(adj))
		}
		seen := map[Coord]bool{}
		for _, a := range adj {
			if seen[a.Face] {
				t.Fatalf("%s: duplicate neighbour %v", ty, a.Face)
			}
			seen[a.Face] = true
			faces := topo.EdgeFaces(a.Edge)
			if !(faces[0] == c && faces[1] == a.Face) && !(faces[1] == c && faces[0] == a.Face) {
				t.Fatalf("%s: edge %v separates %v, want %v|%v", ty, a.Edge, faces, c, a.Face)
			}
		}
	}
}

func TestAdjacencyIsSymmetric(t *testing.T) {
	for _, ty := range []Type{Hex, Square} {
		topo := For(ty)
		c := Coord{X: 0, Y: 0}
		for _, a := range topo.AdjacentFaces(c) {
			found := false
			for _, b := range topo.AdjacentFaces(a.Face) {
				if b.Face == c {
					if b.Edge != a.Edge {
						t.Fatalf("%s: edge mismatch %v vs %v", ty, a.Edge, b.Edge)
					}
					found = true
				}
			}
			if !found {
				t.Fatalf("%s: %v not adjacent back to %v", ty, a.Face, c)
			}
		}
	}
}

func TestTypeValid(t *testing.T) {
	if !Hex.Valid() || !Square.Valid() || Type("triangle").Valid() {
		t.Fatalf("unexpected Valid results")
	}
	if _, ok := For("triangle").(SquareTopology); !ok {
		t.Fatalf("unknown types should fall back to square")
	}
}
