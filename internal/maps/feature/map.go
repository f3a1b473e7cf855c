package feature

import "wallandshadow.io/internal/maps/grid"

// Map is the record a change log belongs to.
type Map struct {
	ID          string    `json:"id"`
	AdventureID string    `json:"adventureId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	Ty          grid.Type `json:"ty"`
	FFA         bool      `json:"ffa"`
}

// CanDoAnything is true for the owner, and for everyone on a free-for-all map.
func (m Map) CanDoAnything(uid string) bool {
	return m.FFA || uid == m.Owner
}
