// Package session keeps one client's view of an open map in step with the
// map's change feed.
//
// Local edits are applied at once and queued until the feed echoes them back.
// When the feed delivers somebody else's batch ahead of a queued edit, or the
// store rejects an edit, the session rebuilds its state from the feed it has
// seen so far and replays whatever is still queued on top.
package session

import (
	"errors"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/colouring"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
	"wallandshadow.io/internal/maps/policy"
	"wallandshadow.io/internal/maps/tracking"
	"wallandshadow.io/internal/metrics"
	"wallandshadow.io/internal/persistence/store"
)

var (
	ErrRejected  = errors.New("session: changes rejected")
	ErrObjectCap = errors.New("session: object limit reached")
)

type Config struct {
	// Connectivity attaches a region colouring, so players can only move
	// tokens within the region they stand in.
	Connectivity  bool
	Limits        *policy.Limits
	WallValidator tracking.WallValidator
	Logger        logrus.FieldLogger

	// OnChange runs after every update of the visible state, with the
	// session lock held.
	OnChange func(tokensChanged bool, objectCount int)
}

// Edit is a locally applied batch waiting to be written.
type Edit struct {
	ID    string
	Batch change.Batch
	// Warn is set when the edit took the map past its soft object limit.
	Warn bool
}

type pending struct {
	Edit
	acked bool
}

type Session struct {
	mu sync.Mutex

	m   feature.Map
	uid string
	cfg Config
	log logrus.FieldLogger

	feed    []change.Batch
	pending []pending
	tracker *tracking.Tracker
	resyncs int
}

func New(m feature.Map, uid string, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	s := &Session{
		m:   m,
		uid: uid,
		cfg: cfg,
		log: log.WithFields(logrus.Fields{"map_id": m.ID, "uid": uid}),
	}
	s.tracker = s.newTracker()
	return s
}

func (s *Session) newTracker() *tracking.Tracker {
	cfg := tracking.Config{
		Grid:          s.m.Ty,
		Limits:        s.cfg.Limits,
		WallValidator: s.cfg.WallValidator,
		OnApplied: func(tokensChanged bool, objectCount int) {
			metrics.BatchesApplied.Inc()
		},
		OnAborted: func() { metrics.BatchesAborted.Inc() },
	}
	if s.cfg.Connectivity {
		cfg.Colouring = colouring.New(grid.For(s.m.Ty))
	}
	return tracking.New(cfg)
}

func (s *Session) changed(tokensChanged bool) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(tokensChanged, s.tracker.ObjectCount())
	}
}

// Apply validates chs as the session user and applies them locally. The
// returned edit must be written to the store under its ID, followed by
// Ack or Fail.
func (s *Session) Apply(chs []change.Change) (Edit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var warn bool
	if s.cfg.Limits != nil {
		switch s.cfg.Limits.Check(s.tracker.ObjectCount(), change.NetObjectCount(chs)) {
		case policy.Refuse:
			return Edit{}, ErrObjectCap
		case policy.Warn:
			warn = true
		}
	}
	if !tracking.TrackChanges(s.m, s.tracker, chs, s.uid) {
		return Edit{}, ErrRejected
	}
	e := Edit{
		ID:    ulid.Make().String(),
		Batch: change.Batch{Changes: chs, Incremental: true, User: s.uid},
		Warn:  warn,
	}
	s.pending = append(s.pending, pending{Edit: e})
	s.changed(change.HasTokenChanges(chs))
	return e, nil
}

// Ack records that the store accepted an edit.
func (s *Session) Ack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(id); i >= 0 {
		s.pending[i].acked = true
	}
}

// Fail drops an edit the store refused and rebuilds without it.
func (s *Session) Fail(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	s.log.WithField("edit_id", id).Warn("edit refused by store")
	s.resync()
}

func (s *Session) find(id string) int {
	return slices.IndexFunc(s.pending, func(p pending) bool { return p.ID == id })
}

// Receive handles the next document of the map's feed.
func (s *Session) Receive(d store.Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := d.Batch
	if d.ID == store.BaseID || !b.Incremental {
		// The feed restarts from every new base. Acknowledged edits are in
		// the store already, either folded into this base or still to come.
		s.feed = []change.Batch{b}
		s.pending = slices.DeleteFunc(s.pending, func(p pending) bool { return p.acked })
		if b.Resync {
			s.log.Info("map reset by owner")
		}
		s.rebuild()
		return
	}

	s.feed = append(s.feed, b)
	switch {
	case len(s.pending) == 0:
		if !tracking.TrackChanges(s.m, s.tracker, b.Changes, b.User) {
			// Every client skips the same invalid batch.
			s.log.WithField("doc_id", d.ID).Debug("skipped invalid feed batch")
			return
		}
		s.changed(change.HasTokenChanges(b.Changes))
	case s.pending[0].ID == d.ID:
		s.pending = s.pending[1:]
	default:
		if i := s.find(d.ID); i >= 0 {
			s.pending = slices.Delete(s.pending, i, i+1)
		}
		s.resync()
	}
}

// Resync rebuilds the session from the feed it has seen, then replays every
// edit still queued, dropping those that no longer apply.
func (s *Session) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resync()
}

func (s *Session) resync() {
	s.resyncs++
	metrics.Resyncs.Inc()
	s.rebuild()
}

func (s *Session) rebuild() {
	s.tracker = s.newTracker()
	for _, b := range s.feed {
		tracking.TrackChanges(s.m, s.tracker, b.Changes, b.User)
	}
	kept := s.pending[:0]
	for _, p := range s.pending {
		if tracking.TrackChanges(s.m, s.tracker, p.Batch.Changes, s.uid) {
			kept = append(kept, p)
			continue
		}
		s.log.WithField("edit_id", p.ID).Info("dropped edit that no longer applies")
	}
	s.pending = kept
	s.changed(true)
}

// Pending returns the ids of edits not yet seen on the feed, oldest first.
func (s *Session) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.pending))
	for i, p := range s.pending {
		ids[i] = p.ID
	}
	return ids
}

func (s *Session) Resyncs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

func (s *Session) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.ObjectCount()
}

// Consolidated returns the session's current state as a list of adds.
func (s *Session) Consolidated() []change.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.GetConsolidated()
}

// ColourOf returns the region of a face, or colouring.Outside when the session
// has no colouring.
func (s *Session) ColourOf(face grid.Coord) colouring.RegionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.tracker.Colouring(); c != nil {
		return c.ColourOf(face)
	}
	return colouring.Outside
}

// PreviewWalls reports whether wall-only changes would be accepted, without
// touching session state.
func (s *Session) PreviewWalls(chs []change.Change, validator tracking.WallValidator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.ValidateWallChanges(s.m, chs, s.uid, validator)
}

func (s *Session) Map() feature.Map { return s.m }
