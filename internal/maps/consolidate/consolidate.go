// Package consolidate compacts a map's change log into a single base batch.
package consolidate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/tracking"
	"wallandshadow.io/internal/metrics"
	"wallandshadow.io/internal/persistence/store"
)

// MaxIncrementals is how many incremental batches one pass folds in. Deleting
// them plus writing the new base must fit in one transaction.
const MaxIncrementals = store.MaxTxWrites - 1

// Result summarises one Consolidate call.
type Result struct {
	Passes       int
	LostRaces    int
	Consolidated int
}

// Consolidate folds the incremental log of mapID into its base batch, one
// pass of at most MaxIncrementals at a time, until a pass finds nothing left.
// now stamps each new base. When resync is set the new base is flagged so
// that clients rebuild from it.
func Consolidate(ctx context.Context, st store.Store, log logrus.FieldLogger, now func() int64, mapID string, resync bool) (Result, error) {
	start := time.Now()
	defer func() { metrics.ConsolidationDuration.Observe(time.Since(start).Seconds()) }()

	var res Result
	m, err := st.GetMap(ctx, mapID)
	if err != nil {
		return res, fmt.Errorf("consolidate %s: %w", mapID, err)
	}
	log = log.WithField("map_id", mapID)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, lost, err := pass(ctx, st, log, now, m, resync)
		if err != nil {
			return res, fmt.Errorf("consolidate %s: %w", mapID, err)
		}
		res.Passes++
		switch {
		case lost:
			res.LostRaces++
			metrics.ConsolidationPasses.WithLabelValues(metrics.PassLostRace).Inc()
		case n == 0:
			metrics.ConsolidationPasses.WithLabelValues(metrics.PassIdle).Inc()
			return res, nil
		default:
			res.Consolidated += n
			metrics.ConsolidationPasses.WithLabelValues(metrics.PassWritten).Inc()
			metrics.BatchesConsolidated.Add(float64(n))
		}
	}
}

// pass returns how many incrementals it folded in, or lost=true when another
// consolidation replaced the base between the read and the write.
func pass(ctx context.Context, st store.Store, log logrus.FieldLogger, now func() int64, m feature.Map, resync bool) (int, bool, error) {
	base, hasBase, err := st.GetBase(ctx, m.ID)
	if err != nil {
		return 0, false, err
	}
	incs, err := st.ListIncremental(ctx, m.ID, MaxIncrementals)
	if err != nil {
		return 0, false, err
	}
	if len(incs) == 0 {
		return 0, false, nil
	}

	consolidated := replay(log, m, base, hasBase, incs)
	ids := make([]string, len(incs))
	for i, d := range incs {
		ids[i] = d.ID
	}

	lost := false
	err = st.RunTransaction(ctx, m.ID, func(tx store.Tx) error {
		latest, ok, err := tx.GetBase(ctx)
		if err != nil {
			return err
		}
		if ok != hasBase || (ok && latest.Batch.Timestamp != base.Batch.Timestamp) {
			lost = true
			log.WithFields(logrus.Fields{
				"expected_timestamp": base.Batch.Timestamp,
				"found_timestamp":    latest.Batch.Timestamp,
			}).Warn("map changes were already consolidated")
			return nil
		}
		if err := tx.SetBase(ctx, change.Batch{
			Changes:   consolidated,
			Timestamp: now(),
			User:      m.Owner,
			Resync:    resync,
		}); err != nil {
			return err
		}
		return tx.Delete(ctx, ids...)
	})
	if err != nil {
		return 0, false, err
	}
	if lost {
		return 0, true, nil
	}
	log.WithFields(logrus.Fields{
		"batches": len(incs),
		"changes": len(consolidated),
	}).Debug("consolidated")
	return len(incs), false, nil
}

func replay(log logrus.FieldLogger, m feature.Map, base store.Doc, hasBase bool, incs []store.Doc) []change.Change {
	t := tracking.New(tracking.Config{Grid: m.Ty})
	if hasBase && !tracking.Replay(m, t, base.Batch) {
		log.Warn("base batch did not replay cleanly")
	}
	for _, d := range incs {
		if !tracking.Replay(m, t, d.Batch) {
			log.WithField("doc_id", d.ID).Debug("skipped inconsistent batch")
		}
	}
	return t.GetConsolidated()
}

// Cloner is a store that can also create map records.
type Cloner interface {
	store.Store
	PutMap(ctx context.Context, m feature.Map) error
}

// CloneMap consolidates src and writes its state as the base batch of dst,
// whose map record is written and whose base is replaced.
func CloneMap(ctx context.Context, st Cloner, log logrus.FieldLogger, now func() int64, srcID string, dst feature.Map) error {
	src, err := st.GetMap(ctx, srcID)
	if err != nil {
		return fmt.Errorf("clone %s: %w", srcID, err)
	}
	if dst.Ty == "" {
		dst.Ty = src.Ty
	}
	if _, err := Consolidate(ctx, st, log, now, srcID, false); err != nil {
		return err
	}
	base, ok, err := st.GetBase(ctx, srcID)
	if err != nil {
		return fmt.Errorf("clone %s: %w", srcID, err)
	}
	var chs []change.Change
	if ok {
		t := tracking.New(tracking.Config{Grid: src.Ty})
		tracking.Replay(src, t, base.Batch)
		chs = t.GetConsolidated()
	}
	if err := st.PutMap(ctx, dst); err != nil {
		return fmt.Errorf("clone %s: %w", srcID, err)
	}
	return st.RunTransaction(ctx, dst.ID, func(tx store.Tx) error {
		return tx.SetBase(ctx, change.Batch{
			Changes:   chs,
			Timestamp: now(),
			User:      dst.Owner,
			Resync:    true,
		})
	})
}
