package feature

import (
	"strings"

	"wallandshadow.io/internal/maps/grid"
)

// TokenGeometry lists the faces a token covers and the fill edges inside it.
// Every position is relative to the token's anchor position. A size 1 token
// covers only its anchor and has no fill edges.
type TokenGeometry interface {
	Faces(tok Token) []grid.Coord
	FillEdges(tok Token) []grid.Edge
}

// TokenGeometryFor returns the token shapes of a grid type. Unknown types get
// the square shapes, matching grid.For.
func TokenGeometryFor(t grid.Type) TokenGeometry {
	if t == grid.Hex {
		return hexShapes
	}
	return squareShapes
}

// shape is one token footprint as offsets from the anchor.
type shape struct {
	faces []grid.Coord
	edges []grid.Edge
}

type shapeTable struct {
	bySize map[TokenSize]shape
	// alias maps sizes the grid does not draw onto one it does.
	alias func(TokenSize) TokenSize
}

func (s shapeTable) lookup(size TokenSize) shape {
	if sh, ok := s.bySize[s.alias(size)]; ok {
		return sh
	}
	return s.bySize[Size1]
}

func (s shapeTable) Faces(tok Token) []grid.Coord {
	offs := s.lookup(tok.Size).faces
	out := make([]grid.Coord, len(offs))
	for i, o := range offs {
		out[i] = tok.Position.Add(o)
	}
	return out
}

func (s shapeTable) FillEdges(tok Token) []grid.Edge {
	offs := s.lookup(tok.Size).edges
	out := make([]grid.Edge, len(offs))
	for i, o := range offs {
		out[i] = grid.Edge{X: tok.Position.X + o.X, Y: tok.Position.Y + o.Y, Index: o.Index}
	}
	return out
}

func concat[T any](parts ...[]T) []T {
	var out []T
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func off(x, y int) grid.Coord { return grid.Coord{X: x, Y: y} }
func offEdge(x, y, i int) grid.Edge { return grid.Edge{X: x, Y: y, Index: i} }

var centre = []grid.Coord{off(0, 0)}

// Hex tokens grow either towards the left or towards the top-left of the
// anchor. Size 3 is the full ring either way.
var (
	hexLeft2Faces = []grid.Coord{off(-1, 0), off(-1, 1)}
	hexLeft3Faces = []grid.Coord{off(0, 1), off(1, 0), off(1, -1), off(0, -1)}
	hexLeft4Faces = []grid.Coord{off(-1, -1), off(-2, 0), off(-2, 1), off(-2, 2), off(-1, 2)}

	hexLeft2Edges = []grid.Edge{offEdge(-1, 1, 1), offEdge(-1, 1, 2), offEdge(0, 0, 0)}
	hexLeft3Edges = []grid.Edge{
		offEdge(-1, 0, 2), offEdge(0, 0, 1), offEdge(1, -1, 0), offEdge(0, 0, 2), offEdge(1, 0, 1), offEdge(1, 0, 0),
		offEdge(0, 1, 2), offEdge(0, 1, 1), offEdge(0, 1, 0),
	}
	hexLeft4Edges = []grid.Edge{
		offEdge(0, -1, 0), offEdge(-1, 0, 1), offEdge(-2, 0, 2), offEdge(-1, 0, 0), offEdge(-2, 1, 1), offEdge(-2, 1, 2),
		offEdge(-1, 1, 0), offEdge(-2, 2, 1), offEdge(-2, 2, 2), offEdge(-1, 2, 0), offEdge(-1, 2, 1), offEdge(-1, 2, 2),
	}

	hexRight2Faces = []grid.Coord{off(0, -1), off(-1, 0)}
	hexRight3Faces = []grid.Coord{off(-1, 1), off(0, 1), off(1, 0), off(1, -1)}
	hexRight4Faces = []grid.Coord{off(1, -2), off(0, -2), off(-1, -1), off(-2, 0), off(-2, 1)}

	hexRight2Edges = []grid.Edge{offEdge(0, 0, 1), offEdge(-1, 0, 2), offEdge(0, 0, 0)}
	hexRight3Edges = []grid.Edge{
		offEdge(-1, 1, 1), offEdge(-1, 1, 2), offEdge(0, 1, 0), offEdge(0, 1, 1), offEdge(0, 1, 2), offEdge(1, 0, 0),
		offEdge(1, 0, 1), offEdge(0, 0, 2), offEdge(1, -1, 0),
	}
	hexRight4Edges = []grid.Edge{
		offEdge(1, -1, 1), offEdge(0, -1, 2), offEdge(1, -2, 0), offEdge(0, -1, 1), offEdge(-1, -1, 2), offEdge(0, -1, 0),
		offEdge(-1, 0, 1), offEdge(-2, 0, 2), offEdge(-1, 0, 0), offEdge(-2, 1, 1), offEdge(-2, 1, 2), offEdge(-1, 1, 0),
	}
)

var hexShapes = shapeTable{
	bySize: map[TokenSize]shape{
		Size1:      {faces: centre},
		Size2Left:  {faces: concat(centre, hexLeft2Faces), edges: hexLeft2Edges},
		Size4Left:  {faces: concat(centre, hexLeft2Faces, hexLeft3Faces, hexLeft4Faces), edges: concat(hexLeft2Edges, hexLeft3Edges, hexLeft4Edges)},
		Size2Right: {faces: concat(centre, hexRight2Faces), edges: hexRight2Edges},
		Size3:      {faces: concat(centre, hexRight2Faces, hexRight3Faces), edges: concat(hexRight2Edges, hexRight3Edges)},
		Size4Right: {faces: concat(centre, hexRight2Faces, hexRight3Faces, hexRight4Faces), edges: concat(hexRight2Edges, hexRight3Edges, hexRight4Edges)},
	},
	alias: func(s TokenSize) TokenSize {
		switch s {
		case Size2:
			return Size2Right
		case Size4:
			return Size4Right
		}
		return s
	},
}

// Square tokens grow towards the top-left of the anchor, except size 3 which
// is centred on it.
var (
	square2Faces = []grid.Coord{off(0, -1), off(-1, -1), off(-1, 0)}
	square3Faces = []grid.Coord{off(-1, 1), off(0, 1), off(1, 0), off(1, -1)}
	square4Faces = []grid.Coord{off(0, -2), off(-1, -2), off(-2, -1), off(-2, 0)}

	square2Edges = []grid.Edge{offEdge(0, 0, 0), offEdge(0, 0, 1), offEdge(0, -1, 0), offEdge(-1, 0, 1)}
	square3Edges = []grid.Edge{offEdge(1, -1, 0), offEdge(1, 0, 1), offEdge(1, 0, 0), offEdge(-1, 1, 1), offEdge(0, 1, 1), offEdge(0, 1, 0)}
	square4Edges = []grid.Edge{offEdge(0, -2, 0), offEdge(0, -1, 1), offEdge(-1, -1, 1), offEdge(-2, 0, 1), offEdge(-1, 0, 0), offEdge(-1, -1, 0)}
)

var squareShapes = shapeTable{
	bySize: map[TokenSize]shape{
		Size1: {faces: centre},
		Size2: {faces: concat(centre, square2Faces), edges: square2Edges},
		Size3: {
			faces: concat(centre, square2Faces, square3Faces, []grid.Coord{off(1, 1)}),
			edges: concat(square2Edges, square3Edges, []grid.Edge{offEdge(1, 1, 0), offEdge(1, 1, 1)}),
		},
		Size4: {faces: concat(centre, square2Faces, square3Faces, square4Faces), edges: concat(square2Edges, square3Edges, square4Edges)},
	},
	// Square grids have no left or right variants.
	alias: func(s TokenSize) TokenSize {
		return TokenSize(strings.TrimSpace(strings.SplitN(string(s), " ", 2)[0]))
	},
}
