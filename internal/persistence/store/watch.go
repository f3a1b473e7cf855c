package store

import (
	"context"
	"fmt"
	"sync"
)

// notifier wakes watchers of a map after a write. Each waiter gets the current
// channel; a signal closes it and installs a fresh one.
type notifier struct {
	mu     sync.Mutex
	chans  map[string]chan struct{}
	closed bool
}

func (n *notifier) wait(mapID string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if n.chans == nil {
		n.chans = map[string]chan struct{}{}
	}
	ch, ok := n.chans[mapID]
	if !ok {
		ch = make(chan struct{})
		n.chans[mapID] = ch
	}
	return ch
}

func (n *notifier) signal(mapID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.chans[mapID]; ok {
		close(ch)
		delete(n.chans, mapID)
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, ch := range n.chans {
		close(ch)
		delete(n.chans, id)
	}
}

// feedRead is one consistent read of a map's log.
type feedRead struct {
	base    Doc
	hasBase bool
	incs    []Doc
}

func (s *SQLiteStore) readFeed(ctx context.Context, mapID string, lastBaseSeq, afterSeq int64) (feedRead, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return feedRead{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r feedRead
	r.base, r.hasBase, err = getBase(ctx, tx, mapID)
	if err != nil {
		return feedRead{}, err
	}
	if r.hasBase && r.base.Seq != lastBaseSeq {
		// A new base replaces everything sent so far.
		afterSeq = 0
	}
	r.incs, err = listIncremental(ctx, tx, mapID, afterSeq, 0)
	if err != nil {
		return feedRead{}, err
	}
	return r, nil
}

// Watch calls fn with the map's base batch and then every incremental batch in
// write order, and keeps doing so as batches arrive, until ctx is done or fn
// fails. Whenever the base is rewritten, fn sees the new base followed by all
// incrementals still outstanding, some of which it may have seen before.
func (s *SQLiteStore) Watch(ctx context.Context, mapID string, fn func(Doc) error) error {
	if _, err := s.GetMap(ctx, mapID); err != nil {
		return err
	}
	var (
		lastBaseSeq int64 = -1
		lastSeq     int64
	)
	for {
		// Take the wait channel before reading so a write in between is not missed.
		wake := s.notify.wait(mapID)
		if s.closed.Load() {
			return ErrClosed
		}
		r, err := s.readFeed(ctx, mapID, lastBaseSeq, lastSeq)
		if err != nil {
			return err
		}
		if r.hasBase && r.base.Seq != lastBaseSeq {
			if err := fn(r.base); err != nil {
				return err
			}
			lastBaseSeq = r.base.Seq
			lastSeq = 0
		}
		// Incrementals come back in seq order, the order they were appended.
		for _, d := range r.incs {
			if err := fn(d); err != nil {
				return err
			}
			lastSeq = max(lastSeq, d.Seq)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
