package archive

import (
	"context"
	"fmt"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/tracking"
	"wallandshadow.io/internal/persistence/store"
)

// Export reads a map's record and whole change log. Consolidating first keeps
// the read small and makes it consistent.
func Export(ctx context.Context, st store.Store, mapID string, now int64) (Archive, error) {
	m, err := st.GetMap(ctx, mapID)
	if err != nil {
		return Archive{}, fmt.Errorf("export %s: %w", mapID, err)
	}
	a := Archive{Header: Header{Map: m, CreatedAt: now}}
	base, ok, err := st.GetBase(ctx, mapID)
	if err != nil {
		return Archive{}, fmt.Errorf("export %s: %w", mapID, err)
	}
	if ok {
		a.Docs = append(a.Docs, base)
	}
	incs, err := st.ListIncremental(ctx, mapID, 0)
	if err != nil {
		return Archive{}, fmt.Errorf("export %s: %w", mapID, err)
	}
	a.Docs = append(a.Docs, incs...)
	return a, nil
}

// State replays the archive into a fresh tracker, as the consolidator would.
func (a Archive) State() *tracking.Tracker {
	t := tracking.New(tracking.Config{Grid: a.Header.Map.Ty})
	for _, d := range a.Docs {
		tracking.Replay(a.Header.Map, t, d.Batch)
	}
	return t
}

// Restorer is a store that can also create map records.
type Restorer interface {
	store.Store
	PutMap(ctx context.Context, m feature.Map) error
}

// Restore writes the archived map under its own id, or under mapID when set,
// with the archived state as a single base batch flagged for resync.
func Restore(ctx context.Context, st Restorer, a Archive, mapID string, now int64) (feature.Map, error) {
	m := a.Header.Map
	if mapID != "" {
		m.ID = mapID
	}
	if err := st.PutMap(ctx, m); err != nil {
		return m, fmt.Errorf("restore %s: %w", m.ID, err)
	}
	chs := a.State().GetConsolidated()
	err := st.RunTransaction(ctx, m.ID, func(tx store.Tx) error {
		return tx.SetBase(ctx, change.Batch{Changes: chs, Timestamp: now, User: m.Owner, Resync: true})
	})
	if err != nil {
		return m, fmt.Errorf("restore %s: %w", m.ID, err)
	}
	return m, nil
}
