package grid

import (
	"cmp"
	"fmt"
)

// Coord identifies one face of the grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Edge identifies the boundary between two faces. Each face owns a fixed number of
// the edges around it (two on a square grid, three on a hex grid); Index picks one.
type Edge struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Index int `json:"edge"`
}

func (c Coord) String() string { return fmt.Sprintf("%d %d", c.X, c.Y) }
func (e Edge) String() string  { return fmt.Sprintf("%d %d %d", e.X, e.Y, e.Index) }

func (c Coord) Add(d Coord) Coord { return Coord{X: c.X + d.X, Y: c.Y + d.Y} }

// Face returns the face that owns this edge.
func (e Edge) Face() Coord { return Coord{X: e.X, Y: e.Y} }

// Adjacency is one step across an edge.
type Adjacency struct {
	Face Coord
	Edge Edge
}

// Topology answers adjacency questions for one grid type. Implementations hold no state.
type Topology interface {
	// AdjacentFaces returns every face sharing an edge with c, in a fixed order.
	AdjacentFaces(c Coord) []Adjacency
	// EdgeFaces returns the two faces separated by e; the owning face is first.
	EdgeFaces(e Edge) [2]Coord
	// EdgesPerFace is the number of edges each face owns.
	EdgesPerFace() int
}

// Type names a grid topology as stored on a map record.
type Type string

const (
	Hex    Type = "hex"
	Square Type = "square"
)

func (t Type) Valid() bool { return t == Hex || t == Square }

// For returns the topology for a grid type; unknown types fall back to square.
func For(t Type) Topology {
	if t == Hex {
		return HexTopology{}
	}
	return SquareTopology{}
}

// SquareTopology: edge 0 is the left side of a face, edge 1 the top side.
type SquareTopology struct{}

var squareOwned = [2]Coord{{X: -1, Y: 0}, {X: 0, Y: -1}}

func (SquareTopology) EdgesPerFace() int { return 2 }

func (SquareTopology) EdgeFaces(e Edge) [2]Coord {
	f := e.Face()
	return [2]Coord{f, f.Add(squareOwned[mod(e.Index, 2)])}
}

func (SquareTopology) AdjacentFaces(c Coord) []Adjacency {
	return []Adjacency{
		{Face: Coord{X: c.X - 1, Y: c.Y}, Edge: Edge{X: c.X, Y: c.Y, Index: 0}},
		{Face: Coord{X: c.X, Y: c.Y - 1}, Edge: Edge{X: c.X, Y: c.Y, Index: 1}},
		{Face: Coord{X: c.X + 1, Y: c.Y}, Edge: Edge{X: c.X + 1, Y: c.Y, Index: 0}},
		{Face: Coord{X: c.X, Y: c.Y + 1}, Edge: Edge{X: c.X, Y: c.Y + 1, Index: 1}},
	}
}

// HexTopology uses axial coordinates. A face owns the edges towards (x-1, y),
// (x, y-1) and (x+1, y-1), numbered 0, 1 and 2.
type HexTopology struct{}

var hexOwned = [3]Coord{{X: -1, Y: 0}, {X: 0, Y: -1}, {X: 1, Y: -1}}

func (HexTopology) EdgesPerFace() int { return 3 }

func (HexTopology) EdgeFaces(e Edge) [2]Coord {
	f := e.Face()
	return [2]Coord{f, f.Add(hexOwned[mod(e.Index, 3)])}
}

func (HexTopology) AdjacentFaces(c Coord) []Adjacency {
	return []Adjacency{
		{Face: Coord{X: c.X - 1, Y: c.Y}, Edge: Edge{X: c.X, Y: c.Y, Index: 0}},
		{Face: Coord{X: c.X, Y: c.Y - 1}, Edge: Edge{X: c.X, Y: c.Y, Index: 1}},
		{Face: Coord{X: c.X + 1, Y: c.Y - 1}, Edge: Edge{X: c.X, Y: c.Y, Index: 2}},
		{Face: Coord{X: c.X + 1, Y: c.Y}, Edge: Edge{X: c.X + 1, Y: c.Y, Index: 0}},
		{Face: Coord{X: c.X, Y: c.Y + 1}, Edge: Edge{X: c.X, Y: c.Y + 1, Index: 1}},
		{Face: Coord{X: c.X - 1, Y: c.Y + 1}, Edge: Edge{X: c.X - 1, Y: c.Y + 1, Index: 2}},
	}
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// CompareCoord orders faces row by row.
func CompareCoord(a, b Coord) int {
	if a.Y != b.Y {
		return cmp.Compare(a.Y, b.Y)
	}
	return cmp.Compare(a.X, b.X)
}

func CompareEdge(a, b Edge) int {
	if c := CompareCoord(a.Face(), b.Face()); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}
