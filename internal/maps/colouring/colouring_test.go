package colouring

import (
	"math/rand"
	"testing"

	"wallandshadow.io/internal/maps/grid"
)

func squareAround00() []grid.Edge {
	return []grid.Edge{
		{X: 0, Y: 0, Index: 0},
		{X: 0, Y: 0, Index: 1},
		{X: 1, Y: 0, Index: 0},
		{X: 0, Y: 1, Index: 1},
	}
}

func TestSquareSurround(t *testing.T) {
	c := New(grid.SquareTopology{})
	edges := squareAround00()
	inside := grid.Coord{}
	neighbours := grid.SquareTopology{}.AdjacentFaces(inside)

	for _, e := range edges[:3] {
		c.SetWall(e, true)
	}
	c.Recalculate()
	for _, adj := range neighbours {
		if c.ColourOf(adj.Face) != c.ColourOf(inside) {
			t.Fatalf("three walls: %v should share a region with %v", adj.Face, inside)
		}
	}

	before := c.RegionCount()
	c.SetWall(edges[3], true)
	c.Recalculate()
	if c.RegionCount() <= before {
		t.Fatalf("region count did not grow: before=%d after=%d", before, c.RegionCount())
	}
	for _, adj := range neighbours {
		if c.ColourOf(adj.Face) == c.ColourOf(inside) {
			t.Fatalf("four walls: %v should not share a region with %v", adj.Face, inside)
		}
	}

	for i, e := range edges {
		d := New(grid.SquareTopology{})
		for _, w := range edges {
			d.SetWall(w, true)
		}
		d.Recalculate()
		d.SetWall(e, false)
		d.Recalculate()
		for _, adj := range neighbours {
			if d.ColourOf(adj.Face) != d.ColourOf(inside) {
				t.Fatalf("removed wall %d: %v should share a region with %v", i, adj.Face, inside)
			}
		}
	}
}

func TestRecalculateIsLazy(t *testing.T) {
	c := New(grid.SquareTopology{})
	for _, e := range squareAround00() {
		c.SetWall(e, true)
	}
	if !c.Dirty() {
		t.Fatalf("expected pending edits")
	}
	if c.ColourOf(grid.Coord{}) != c.ColourOf(grid.Coord{X: 5, Y: 5}) {
		t.Fatalf("labels changed before Recalculate")
	}
	c.Recalculate()
	if c.Dirty() {
		t.Fatalf("pending edits left after Recalculate")
	}

	// Setting a wall and clearing it again before recalculating is no edit at all.
	c.SetWall(grid.Edge{X: 7, Y: 7, Index: 0}, true)
	c.SetWall(grid.Edge{X: 7, Y: 7, Index: 0}, false)
	if c.Dirty() {
		t.Fatalf("a cancelled edit is still pending")
	}
}

// threeHexWalls encloses (0,0), (0,1) and (1,0) on a hex grid.
func threeHexWalls() []grid.Edge {
	return []grid.Edge{
		{X: 1, Y: 0, Index: 1},
		{X: 0, Y: 0, Index: 2},
		{X: 0, Y: 0, Index: 1},
		{X: 0, Y: 0, Index: 0},
		{X: -1, Y: 1, Index: 2},
		{X: 0, Y: 1, Index: 0},
		{X: -1, Y: 2, Index: 2},
		{X: 0, Y: 2, Index: 1},
		{X: 1, Y: 1, Index: 0},
		{X: 1, Y: 1, Index: 1},
		{X: 2, Y: 0, Index: 0},
		{X: 1, Y: 0, Index: 2},
	}
}

func TestThreeHexEnclosure(t *testing.T) {
	c := New(grid.HexTopology{})
	for _, e := range threeHexWalls() {
		c.SetWall(e, true)
	}
	c.Recalculate()

	inside := []grid.Coord{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 0}}
	outside := []grid.Coord{{X: 1, Y: -1}, {X: -1, Y: 1}, {X: -2, Y: 2}, {X: 2, Y: 0}, {X: 50, Y: -50}}
	for _, f := range inside[1:] {
		if c.ColourOf(f) != c.ColourOf(inside[0]) {
			t.Fatalf("%v and %v should share a region", f, inside[0])
		}
	}
	for _, f := range outside {
		if c.ColourOf(f) != Outside {
			t.Fatalf("%v should be outside, got %d", f, c.ColourOf(f))
		}
		if c.ColourOf(f) == c.ColourOf(inside[0]) {
			t.Fatalf("%v should not share a region with the enclosure", f)
		}
	}

	// Split the enclosure: (0,0) alone on one side.
	c.SetWall(grid.Edge{X: 0, Y: 1, Index: 1}, true)
	c.SetWall(grid.Edge{X: 1, Y: 0, Index: 0}, true)
	c.Recalculate()
	if c.ColourOf(grid.Coord{X: 0, Y: 1}) != c.ColourOf(grid.Coord{X: 1, Y: 0}) {
		t.Fatalf("(0,1) and (1,0) should still share a region")
	}
	if c.ColourOf(grid.Coord{X: 0, Y: 0}) == c.ColourOf(grid.Coord{X: 0, Y: 1}) {
		t.Fatalf("(0,0) should be split off")
	}
	if got := c.RegionCount(); got != 3 {
		t.Fatalf("region count: got %d want 3", got)
	}

	// Opening a boundary wall of (0,0) joins it to the outside only.
	c.SetWall(grid.Edge{X: 0, Y: 0, Index: 2}, false)
	c.Recalculate()
	if c.ColourOf(grid.Coord{X: 0, Y: 0}) != Outside {
		t.Fatalf("(0,0) should be outside now")
	}
	if c.ColourOf(grid.Coord{X: 0, Y: 1}) == Outside {
		t.Fatalf("(0,1) should still be enclosed")
	}
}

func TestIndependentEditsCommute(t *testing.T) {
	var edges []grid.Edge
	for _, origin := range []grid.Coord{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}, {X: -10, Y: -10}} {
		edges = append(edges, walledSquare(origin, 3)...)
	}
	edges = append(edges, threeHexLikeSquareNoise()...)

	reference := New(grid.SquareTopology{})
	for _, e := range edges {
		reference.SetWall(e, true)
	}
	reference.Recalculate()

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 5; round++ {
		shuffled := append([]grid.Edge(nil), edges...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		// Apply in several recalculations to exercise the incremental path too.
		c := New(grid.SquareTopology{})
		for i, e := range shuffled {
			c.SetWall(e, true)
			if i%7 == 0 {
				c.Recalculate()
			}
		}
		c.Recalculate()
		assertSamePartition(t, reference, c, grid.Coord{X: -12, Y: -12}, grid.Coord{X: 14, Y: 14})
	}
}

func threeHexLikeSquareNoise() []grid.Edge {
	return []grid.Edge{{X: 20, Y: 20, Index: 0}, {X: 21, Y: 20, Index: 1}, {X: -5, Y: 3, Index: 0}}
}

func assertSamePartition(t *testing.T, a, b *Colouring, lo, hi grid.Coord) {
	t.Helper()
	ab := map[RegionID]RegionID{}
	ba := map[RegionID]RegionID{}
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			f := grid.Coord{X: x, Y: y}
			ra, rb := a.ColourOf(f), b.ColourOf(f)
			if m, ok := ab[ra]; ok && m != rb {
				t.Fatalf("partitions differ at %v", f)
			}
			if m, ok := ba[rb]; ok && m != ra {
				t.Fatalf("partitions differ at %v", f)
			}
			ab[ra], ba[rb] = rb, ra
		}
	}
}

// walledSquare returns the walls around a size x size block of faces.
func walledSquare(origin grid.Coord, size int) []grid.Edge {
	var edges []grid.Edge
	for i := 0; i < size; i++ {
		edges = append(edges,
			grid.Edge{X: origin.X, Y: origin.Y + i, Index: 0},
			grid.Edge{X: origin.X + size, Y: origin.Y + i, Index: 0},
			grid.Edge{X: origin.X + i, Y: origin.Y, Index: 1},
			grid.Edge{X: origin.X + i, Y: origin.Y + size, Index: 1},
		)
	}
	return edges
}

func TestManyRooms(t *testing.T) {
	const rooms = 40
	c := New(grid.SquareTopology{})
	for i := 0; i < rooms; i++ {
		for j := 0; j < rooms; j++ {
			for _, e := range walledSquare(grid.Coord{X: i * 4, Y: j * 4}, 3) {
				c.SetWall(e, true)
			}
		}
	}
	c.Recalculate()
	if got, want := c.RegionCount(), rooms*rooms+1; got != want {
		t.Fatalf("region count: got %d want %d", got, want)
	}
	a := c.ColourOf(grid.Coord{X: 1, Y: 1})
	if c.ColourOf(grid.Coord{X: 2, Y: 2}) != a {
		t.Fatalf("faces of one room differ")
	}
	if c.ColourOf(grid.Coord{X: 5, Y: 1}) == a {
		t.Fatalf("neighbouring rooms share a region")
	}
	if c.ColourOf(grid.Coord{X: 3, Y: 3}) != Outside {
		t.Fatalf("corridor face should be outside")
	}

	// Knock one door through and then re-close it, one edit per pass.
	door := grid.Edge{X: 3, Y: 1, Index: 0}
	c.SetWall(door, false)
	c.Recalculate()
	if c.ColourOf(grid.Coord{X: 1, Y: 1}) != Outside {
		t.Fatalf("room with a door should be outside")
	}
	c.SetWall(door, true)
	c.Recalculate()
	if c.ColourOf(grid.Coord{X: 1, Y: 1}) == Outside {
		t.Fatalf("closed room should be enclosed again")
	}
	if got, want := c.RegionCount(), rooms*rooms+1; got != want {
		t.Fatalf("region count after door: got %d want %d", got, want)
	}
}

func TestVisualise(t *testing.T) {
	c := New(grid.SquareTopology{})
	out := map[grid.Coord]float64{}
	VisualiseInto(c, out, func(_ grid.Coord, v float64) float64 { return v })
	if len(out) != 0 {
		t.Fatalf("empty colouring visualised %d faces", len(out))
	}

	for _, e := range squareAround00() {
		c.SetWall(e, true)
	}
	c.Recalculate()
	VisualiseInto(c, out, func(_ grid.Coord, v float64) float64 { return v })
	if _, ok := out[grid.Coord{}]; !ok {
		t.Fatalf("enclosed face missing from visualisation")
	}
	for f, v := range out {
		if v < 0 || v >= 1 {
			t.Fatalf("value for %v out of range: %v", f, v)
		}
	}
	if out[grid.Coord{}] == out[grid.Coord{X: 1, Y: 0}] {
		t.Fatalf("inside and outside share a display value")
	}
	if out[grid.Coord{X: 1, Y: 0}] != out[grid.Coord{X: -1, Y: -1}] {
		t.Fatalf("outside faces differ in display value")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := New(grid.SquareTopology{})
	for _, e := range squareAround00() {
		c.SetWall(e, true)
	}
	c.Recalculate()
	d := c.Clone()
	d.SetWall(grid.Edge{X: 0, Y: 0, Index: 0}, false)
	d.Recalculate()
	if d.ColourOf(grid.Coord{}) != Outside {
		t.Fatalf("clone did not open the room")
	}
	if c.ColourOf(grid.Coord{}) == Outside {
		t.Fatalf("opening the clone's room changed the original")
	}
}
