// Package change defines the change records a map log is made of.
//
// Change is a closed set: every variant lives in this package, and callers switch
// over the concrete types.
package change

import (
	"fmt"

	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
)

type Type int

const (
	Add    Type = 1
	Move   Type = 2
	Remove Type = 3
)

func (t Type) String() string {
	switch t {
	case Add:
		return "Add"
	case Move:
		return "Move"
	case Remove:
		return "Remove"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

type Category int

const (
	Area       Category = 1
	Token      Category = 2
	Wall       Category = 3
	Note       Category = 4
	Image      Category = 5
	PlayerArea Category = 6
)

func (c Category) String() string {
	switch c {
	case Area:
		return "Area"
	case Token:
		return "Token"
	case Wall:
		return "Wall"
	case Note:
		return "Note"
	case Image:
		return "Image"
	case PlayerArea:
		return "PlayerArea"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Change is one of the variant types below.
type Change interface {
	Type() Type
	Category() Category
	isChange()
}

type AreaAdd struct{ Feature feature.Area }
type AreaRemove struct{ Position grid.Coord }
type PlayerAreaAdd struct{ Feature feature.Area }
type PlayerAreaRemove struct{ Position grid.Coord }
type TokenAdd struct{ Feature feature.Token }

// TokenMove and TokenRemove name the token they expect to find; a mismatch fails.
type TokenMove struct {
	OldPosition grid.Coord
	NewPosition grid.Coord
	TokenID     string
}

type TokenRemove struct {
	Position grid.Coord
	TokenID  string
}

type WallAdd struct{ Feature feature.Wall }
type WallRemove struct{ Position grid.Edge }
type NoteAdd struct{ Feature feature.Note }
type NoteRemove struct{ Position grid.Coord }
type ImageAdd struct{ Feature feature.Image }
type ImageRemove struct{ ID string }

func (AreaAdd) Type() Type          { return Add }
func (AreaRemove) Type() Type       { return Remove }
func (PlayerAreaAdd) Type() Type    { return Add }
func (PlayerAreaRemove) Type() Type { return Remove }
func (TokenAdd) Type() Type         { return Add }
func (TokenMove) Type() Type        { return Move }
func (TokenRemove) Type() Type      { return Remove }
func (WallAdd) Type() Type          { return Add }
func (WallRemove) Type() Type       { return Remove }
func (NoteAdd) Type() Type          { return Add }
func (NoteRemove) Type() Type       { return Remove }
func (ImageAdd) Type() Type         { return Add }
func (ImageRemove) Type() Type      { return Remove }

func (AreaAdd) Category() Category          { return Area }
func (AreaRemove) Category() Category       { return Area }
func (PlayerAreaAdd) Category() Category    { return PlayerArea }
func (PlayerAreaRemove) Category() Category { return PlayerArea }
func (TokenAdd) Category() Category         { return Token }
func (TokenMove) Category() Category        { return Token }
func (TokenRemove) Category() Category      { return Token }
func (WallAdd) Category() Category          { return Wall }
func (WallRemove) Category() Category       { return Wall }
func (NoteAdd) Category() Category          { return Note }
func (NoteRemove) Category() Category       { return Note }
func (ImageAdd) Category() Category         { return Image }
func (ImageRemove) Category() Category      { return Image }

func (AreaAdd) isChange()          {}
func (AreaRemove) isChange()       {}
func (PlayerAreaAdd) isChange()    {}
func (PlayerAreaRemove) isChange() {}
func (TokenAdd) isChange()         {}
func (TokenMove) isChange()        {}
func (TokenRemove) isChange()      {}
func (WallAdd) isChange()          {}
func (WallRemove) isChange()       {}
func (NoteAdd) isChange()          {}
func (NoteRemove) isChange()       {}
func (ImageAdd) isChange()         {}
func (ImageRemove) isChange()      {}

// Batch is a list of changes made together by one user.
type Batch struct {
	Changes List `json:"chs"`
	// Timestamp is assigned by the store when the batch is written.
	Timestamp   int64 `json:"timestamp"`
	Incremental bool  `json:"incremental"`
	// Resync asks every reader to rebuild from this batch. Only set on a base batch.
	Resync bool   `json:"resync"`
	User   string `json:"user"`
}

// NetObjectCount is the change in object count a list would cause if it applied.
func NetObjectCount(chs []Change) int {
	n := 0
	for _, ch := range chs {
		switch ch.Type() {
		case Add:
			n++
		case Remove:
			n--
		}
	}
	return n
}

// HasTokenChanges reports whether any change in the list touches a token.
func HasTokenChanges(chs []Change) bool {
	for _, ch := range chs {
		if ch.Category() == Token {
			return true
		}
	}
	return false
}

// WallsOnly reports whether every change in the list is a wall change.
func WallsOnly(chs []Change) bool {
	for _, ch := range chs {
		if ch.Category() != Wall {
			return false
		}
	}
	return true
}
