// Package colouring partitions grid faces into regions that can reach each other
// without crossing a wall. A player may only move a token within one region.
//
// Faces that carry no explicit label belong to the Outside region, the single
// unbounded region of the map. Enclosed regions are labelled face by face.
// Recalculate applies pending wall edits one at a time: removing a wall merges the
// smaller of the two regions into the larger, adding one runs two interleaved
// searches from its sides and relabels whichever side runs out first. Each edit
// costs roughly the size of the smaller region it touches, not the whole map.
package colouring

import (
	"encoding/binary"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"

	"wallandshadow.io/internal/maps/grid"
)

// RegionID is stable only between two calls to Recalculate.
type RegionID int64

// Outside is the region of every face no wall encloses.
const Outside RegionID = 0

type Colouring struct {
	topo grid.Topology

	// walls is the set the current labels reflect; pending holds edits since.
	walls   map[grid.Edge]struct{}
	pending map[grid.Edge]bool

	labels  map[grid.Coord]RegionID
	members map[RegionID]map[grid.Coord]struct{}
	next    RegionID

	// Bounds of every face next to a wall the labels reflect. Anything outside
	// them is in Outside. Never shrinks.
	lo, hi    grid.Coord
	hasBounds bool
}

func New(topo grid.Topology) *Colouring {
	return &Colouring{
		topo:    topo,
		walls:   map[grid.Edge]struct{}{},
		pending: map[grid.Edge]bool{},
		labels:  map[grid.Coord]RegionID{},
		members: map[RegionID]map[grid.Coord]struct{}{},
		next:    Outside + 1,
	}
}

// Clone returns an independent copy, pending edits included.
func (c *Colouring) Clone() *Colouring {
	members := make(map[RegionID]map[grid.Coord]struct{}, len(c.members))
	for id, set := range c.members {
		members[id] = maps.Clone(set)
	}
	return &Colouring{
		topo:      c.topo,
		walls:     maps.Clone(c.walls),
		pending:   maps.Clone(c.pending),
		labels:    maps.Clone(c.labels),
		members:   members,
		next:      c.next,
		lo:        c.lo,
		hi:        c.hi,
		hasBounds: c.hasBounds,
	}
}

// SetWall records a wall edit. Labels do not change until Recalculate.
func (c *Colouring) SetWall(e grid.Edge, present bool) {
	_, current := c.walls[e]
	if current == present {
		delete(c.pending, e)
		return
	}
	c.pending[e] = present
}

// Dirty reports whether there are wall edits Recalculate has not applied yet.
func (c *Colouring) Dirty() bool { return len(c.pending) > 0 }

// ColourOf returns the region of a face as of the last Recalculate.
func (c *Colouring) ColourOf(face grid.Coord) RegionID {
	if id, ok := c.labels[face]; ok {
		return id
	}
	return Outside
}

// RegionCount is the number of distinct regions, Outside included.
func (c *Colouring) RegionCount() int { return len(c.members) + 1 }

func (c *Colouring) Recalculate() {
	if len(c.pending) == 0 {
		return
	}
	edges := make([]grid.Edge, 0, len(c.pending))
	for e := range c.pending {
		edges = append(edges, e)
	}
	// Removals first keeps the searches for additions small; the final partition
	// is the same in any order.
	slices.SortFunc(edges, func(a, b grid.Edge) int {
		if pa, pb := c.pending[a], c.pending[b]; pa != pb {
			if pa {
				return 1
			}
			return -1
		}
		return grid.CompareEdge(a, b)
	})
	for _, e := range edges {
		if c.pending[e] {
			c.addWall(e)
		} else {
			c.removeWall(e)
		}
	}
	clear(c.pending)
}

func (c *Colouring) removeWall(e grid.Edge) {
	delete(c.walls, e)
	faces := c.topo.EdgeFaces(e)
	ra, rb := c.ColourOf(faces[0]), c.ColourOf(faces[1])
	if ra == rb {
		return
	}
	// Fold the smaller region into the larger. Outside is always the larger.
	if rb == Outside || (ra != Outside && len(c.members[ra]) < len(c.members[rb])) {
		ra, rb = rb, ra
	}
	// Now rb is folded into ra.
	for f := range c.members[rb] {
		if ra == Outside {
			delete(c.labels, f)
		} else {
			c.labels[f] = ra
			c.members[ra][f] = struct{}{}
		}
	}
	delete(c.members, rb)
}

func (c *Colouring) addWall(e grid.Edge) {
	c.walls[e] = struct{}{}
	faces := c.topo.EdgeFaces(e)
	c.extendBounds(faces[0])
	c.extendBounds(faces[1])
	if c.ColourOf(faces[0]) != c.ColourOf(faces[1]) {
		return
	}

	a := newSearch(faces[0])
	b := newSearch(faces[1])
	for {
		switch {
		case a.exhausted():
			c.relabel(a.visited)
			return
		case b.exhausted():
			c.relabel(b.visited)
			return
		case a.escaped && b.escaped:
			return
		}
		if c.expand(a, b) || c.expand(b, a) {
			return
		}
	}
}

// expand visits one more face from s. It returns true once s reaches a face
// the other search has already visited, meaning both sides are still connected.
func (c *Colouring) expand(s, other *search) bool {
	if s.escaped || len(s.queue) == 0 {
		return false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	for _, adj := range c.topo.AdjacentFaces(f) {
		if _, walled := c.walls[adj.Edge]; walled {
			continue
		}
		if _, ok := other.visited[adj.Face]; ok {
			return true
		}
		if _, ok := s.visited[adj.Face]; ok {
			continue
		}
		if !c.inBounds(adj.Face) {
			// Unbounded from here on; stop searching this side.
			s.escaped = true
			s.queue = nil
			return false
		}
		s.visited[adj.Face] = struct{}{}
		s.queue = append(s.queue, adj.Face)
	}
	return false
}

func (c *Colouring) relabel(faces map[grid.Coord]struct{}) {
	id := c.next
	c.next++
	set := make(map[grid.Coord]struct{}, len(faces))
	for f := range faces {
		if old, ok := c.labels[f]; ok {
			delete(c.members[old], f)
			if len(c.members[old]) == 0 {
				delete(c.members, old)
			}
		}
		c.labels[f] = id
		set[f] = struct{}{}
	}
	c.members[id] = set
}

func (c *Colouring) extendBounds(f grid.Coord) {
	if !c.hasBounds {
		c.lo, c.hi, c.hasBounds = f, f, true
		return
	}
	c.lo.X = min(c.lo.X, f.X)
	c.lo.Y = min(c.lo.Y, f.Y)
	c.hi.X = max(c.hi.X, f.X)
	c.hi.Y = max(c.hi.Y, f.Y)
}

func (c *Colouring) inBounds(f grid.Coord) bool {
	return c.hasBounds && f.X >= c.lo.X && f.X <= c.hi.X && f.Y >= c.lo.Y && f.Y <= c.hi.Y
}

type search struct {
	visited map[grid.Coord]struct{}
	queue   []grid.Coord
	escaped bool
}

func newSearch(start grid.Coord) *search {
	return &search{
		visited: map[grid.Coord]struct{}{start: {}},
		queue:   []grid.Coord{start},
	}
}

func (s *search) exhausted() bool { return !s.escaped && len(s.queue) == 0 }

// Visualise calls emit for every face inside the walled area with a value in [0, 1)
// that is equal for faces of the same region. Distinct regions usually, but not
// always, get distinct values.
func (c *Colouring) Visualise(emit func(face grid.Coord, value float64)) {
	if !c.hasBounds {
		return
	}
	for y := c.lo.Y - 1; y <= c.hi.Y+1; y++ {
		for x := c.lo.X - 1; x <= c.hi.X+1; x++ {
			f := grid.Coord{X: x, Y: y}
			emit(f, regionValue(c.ColourOf(f)))
		}
	}
}

// VisualiseInto fills out with one mapped value per visualised face.
func VisualiseInto[V any](c *Colouring, out map[grid.Coord]V, mapFn func(face grid.Coord, value float64) V) {
	c.Visualise(func(face grid.Coord, value float64) {
		out[face] = mapFn(face, value)
	})
}

func regionValue(id RegionID) float64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return float64(xxhash.Sum64(b[:])>>11) / (1 << 53)
}
