// Package feature holds the things that can be placed on a map and the
// dictionaries a tracker keeps them in.
package feature

import (
	"regexp"
	"slices"

	"wallandshadow.io/internal/maps/grid"
)

// Area is a painted face. Player areas use the same shape.
type Area struct {
	Position grid.Coord `json:"position"`
	Colour   int        `json:"colour"`
	Stripe   int        `json:"stripe"`
}

type Wall struct {
	Position grid.Edge `json:"position"`
	Colour   int       `json:"colour"`
}

type TokenSize string

const (
	Size1      TokenSize = "1"
	Size2      TokenSize = "2"
	Size2Left  TokenSize = "2 (left)"
	Size2Right TokenSize = "2 (right)"
	Size3      TokenSize = "3"
	Size4      TokenSize = "4"
	Size4Left  TokenSize = "4 (left)"
	Size4Right TokenSize = "4 (right)"
)

var tokenSizeRe = regexp.MustCompile(`^([1-4]|[24] \((left|right)\))$`)

// ParseTokenSize falls back to Size1 for anything it does not recognise.
func ParseTokenSize(s string) TokenSize {
	if tokenSizeRe.MatchString(s) {
		return TokenSize(s)
	}
	return Size1
}

type Sprite struct {
	Source   string `json:"source"`
	ID       string `json:"id"`
	Geometry string `json:"geometry"`
	Position int    `json:"position"`
}

type Token struct {
	Position             grid.Coord `json:"position"`
	Colour               int        `json:"colour"`
	ID                   string     `json:"id"`
	Players              []string   `json:"players"`
	Size                 TokenSize  `json:"size"`
	Text                 string     `json:"text"`
	Note                 string     `json:"note"`
	NoteVisibleToPlayers bool       `json:"noteVisibleToPlayers"`
	CharacterID          string     `json:"characterId"`
	Sprites              []Sprite   `json:"sprites"`
	Outline              bool       `json:"outline"`
}

// ControlledBy reports whether uid is one of the token's players.
func (t Token) ControlledBy(uid string) bool {
	return slices.Contains(t.Players, uid)
}

// Note is a text annotation pinned to a face.
type Note struct {
	Position         grid.Coord `json:"position"`
	Colour           int        `json:"colour"`
	ID               string     `json:"id"`
	Text             string     `json:"text"`
	VisibleToPlayers bool       `json:"visibleToPlayers"`
}

// ImageRef points at an uploaded image.
type ImageRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type Vertex struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Vertex int `json:"vertex"`
}

type AnchorType string

const (
	AnchorNone   AnchorType = "none"
	AnchorVertex AnchorType = "vertex"
	AnchorPixel  AnchorType = "pixel"
)

// Anchor pins an image corner either to a grid vertex or to a pixel offset.
type Anchor struct {
	AnchorType AnchorType `json:"anchorType"`
	Position   *Vertex    `json:"position,omitempty"`
	X          float64    `json:"x,omitempty"`
	Y          float64    `json:"y,omitempty"`
}

// Image is an uploaded image stretched between two anchors. Images are keyed by ID.
type Image struct {
	ID       string   `json:"id"`
	Image    ImageRef `json:"image"`
	Rotation string   `json:"rotation"`
	Start    Anchor   `json:"start"`
	End      Anchor   `json:"end"`
}
