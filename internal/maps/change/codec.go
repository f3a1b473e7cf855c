package change

import (
	"encoding/json"
	"errors"
	"fmt"

	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
)

var ErrUnknownChange = errors.New("unknown change")

// List marshals as the `chs` array of a batch record.
type List []Change

type wireOut struct {
	Ty          Type        `json:"ty"`
	Cat         Category    `json:"cat"`
	Feature     any         `json:"feature,omitempty"`
	Position    any         `json:"position,omitempty"`
	OldPosition *grid.Coord `json:"oldPosition,omitempty"`
	NewPosition *grid.Coord `json:"newPosition,omitempty"`
	TokenID     *string     `json:"tokenId,omitempty"`
	ID          *string     `json:"id,omitempty"`
}

type wireIn struct {
	Ty          Type            `json:"ty"`
	Cat         Category        `json:"cat"`
	Feature     json.RawMessage `json:"feature"`
	Position    json.RawMessage `json:"position"`
	OldPosition grid.Coord      `json:"oldPosition"`
	NewPosition grid.Coord      `json:"newPosition"`
	TokenID     string          `json:"tokenId"`
	ID          string          `json:"id"`
}

func encode(ch Change) (wireOut, error) {
	w := wireOut{Ty: ch.Type(), Cat: ch.Category()}
	switch c := ch.(type) {
	case AreaAdd:
		w.Feature = c.Feature
	case AreaRemove:
		w.Position = c.Position
	case PlayerAreaAdd:
		w.Feature = c.Feature
	case PlayerAreaRemove:
		w.Position = c.Position
	case TokenAdd:
		w.Feature = c.Feature
	case TokenMove:
		w.OldPosition, w.NewPosition, w.TokenID = &c.OldPosition, &c.NewPosition, &c.TokenID
	case TokenRemove:
		w.Position, w.TokenID = c.Position, &c.TokenID
	case WallAdd:
		w.Feature = c.Feature
	case WallRemove:
		w.Position = c.Position
	case NoteAdd:
		w.Feature = c.Feature
	case NoteRemove:
		w.Position = c.Position
	case ImageAdd:
		w.Feature = c.Feature
	case ImageRemove:
		w.ID = &c.ID
	default:
		return w, fmt.Errorf("%w: %T", ErrUnknownChange, ch)
	}
	return w, nil
}

func decode(w wireIn) (Change, error) {
	type key struct {
		cat Category
		ty  Type
	}
	var (
		ch  Change
		err error
	)
	switch (key{w.Cat, w.Ty}) {
	case key{Area, Add}:
		var f feature.Area
		err = json.Unmarshal(w.Feature, &f)
		ch = AreaAdd{Feature: f}
	case key{Area, Remove}:
		var p grid.Coord
		err = json.Unmarshal(w.Position, &p)
		ch = AreaRemove{Position: p}
	case key{PlayerArea, Add}:
		var f feature.Area
		err = json.Unmarshal(w.Feature, &f)
		ch = PlayerAreaAdd{Feature: f}
	case key{PlayerArea, Remove}:
		var p grid.Coord
		err = json.Unmarshal(w.Position, &p)
		ch = PlayerAreaRemove{Position: p}
	case key{Token, Add}:
		var f feature.Token
		err = json.Unmarshal(w.Feature, &f)
		f.Size = feature.ParseTokenSize(string(f.Size))
		ch = TokenAdd{Feature: f}
	case key{Token, Move}:
		ch = TokenMove{OldPosition: w.OldPosition, NewPosition: w.NewPosition, TokenID: w.TokenID}
	case key{Token, Remove}:
		var p grid.Coord
		err = json.Unmarshal(w.Position, &p)
		ch = TokenRemove{Position: p, TokenID: w.TokenID}
	case key{Wall, Add}:
		var f feature.Wall
		err = json.Unmarshal(w.Feature, &f)
		ch = WallAdd{Feature: f}
	case key{Wall, Remove}:
		var p grid.Edge
		err = json.Unmarshal(w.Position, &p)
		ch = WallRemove{Position: p}
	case key{Note, Add}:
		var f feature.Note
		err = json.Unmarshal(w.Feature, &f)
		ch = NoteAdd{Feature: f}
	case key{Note, Remove}:
		var p grid.Coord
		err = json.Unmarshal(w.Position, &p)
		ch = NoteRemove{Position: p}
	case key{Image, Add}:
		var f feature.Image
		err = json.Unmarshal(w.Feature, &f)
		ch = ImageAdd{Feature: f}
	case key{Image, Remove}:
		ch = ImageRemove{ID: w.ID}
	default:
		return nil, fmt.Errorf("%w: %v %v", ErrUnknownChange, w.Cat, w.Ty)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %v %v: %w", w.Cat, w.Ty, err)
	}
	return ch, nil
}

func (l List) MarshalJSON() ([]byte, error) {
	out := make([]wireOut, 0, len(l))
	for _, ch := range l {
		w, err := encode(ch)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func (l *List) UnmarshalJSON(b []byte) error {
	var in []wireIn
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	out := make(List, 0, len(in))
	for i, w := range in {
		ch, err := decode(w)
		if err != nil {
			return fmt.Errorf("change %d: %w", i, err)
		}
		out = append(out, ch)
	}
	*l = out
	return nil
}

// Encode renders a batch record.
func Encode(b Batch) ([]byte, error) {
	return json.Marshal(b)
}

// Decode validates a batch record against the schema and decodes it.
func Decode(data []byte) (Batch, error) {
	if err := Validate(data); err != nil {
		return Batch{}, err
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}
