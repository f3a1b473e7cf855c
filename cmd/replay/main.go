package main

import (
	"flag"
	"fmt"
	"os"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/colouring"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
	"wallandshadow.io/internal/maps/tracking"
	"wallandshadow.io/internal/persistence/archive"
	persistlog "wallandshadow.io/internal/persistence/log"
	"wallandshadow.io/internal/persistence/store"
)

func main() {
	var (
		archivePath = flag.String("archive", "", "path to a map archive (.json.zst)")
		journalDir  = flag.String("journal", "", "journal dir holding <map id>/changes-*.jsonl.zst (optional)")
		validate    = flag.Bool("validate", false, "replay as a client would, checking permissions and regions under each batch's user")
	)
	flag.Parse()

	if *archivePath == "" {
		fmt.Fprintln(os.Stderr, "missing -archive")
		os.Exit(2)
	}
	a, err := archive.ReadFile(*archivePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read archive:", err)
		os.Exit(1)
	}
	m := a.Header.Map
	fmt.Printf("archive v%d map=%s name=%q owner=%s grid=%s docs=%d\n",
		a.Header.Version, m.ID, m.Name, m.Owner, m.Ty, len(a.Docs))

	r := newReplayer(m, *validate)
	var lastSeq int64
	for _, d := range a.Docs {
		r.apply(d)
		lastSeq = max(lastSeq, d.Seq)
	}

	if *journalDir != "" {
		files, err := persistlog.NewJournal(*journalDir).Files(m.ID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list journal:", err)
			os.Exit(1)
		}
		for _, path := range files {
			entries, err := persistlog.ReadEntries(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, "read journal:", err)
				os.Exit(1)
			}
			for _, e := range entries {
				// Batches already covered by the archive.
				if e.Doc.Seq <= lastSeq {
					continue
				}
				r.apply(e.Doc)
				lastSeq = e.Doc.Seq
			}
		}
	}
	r.report()
}

type replayer struct {
	m        feature.Map
	validate bool
	t        *tracking.Tracker
	applied  int
	rejected int
}

func newReplayer(m feature.Map, validate bool) *replayer {
	cfg := tracking.Config{Grid: m.Ty}
	if validate {
		cfg.Colouring = colouring.New(grid.For(m.Ty))
	}
	return &replayer{m: m, validate: validate, t: tracking.New(cfg)}
}

func (r *replayer) apply(d store.Doc) {
	var ok bool
	if r.validate {
		ok = tracking.TrackChanges(r.m, r.t, d.Batch.Changes, d.Batch.User)
	} else {
		ok = tracking.Replay(r.m, r.t, d.Batch)
	}
	if ok {
		r.applied++
		return
	}
	r.rejected++
	fmt.Printf("rejected doc=%s seq=%d user=%s changes=%d\n", d.ID, d.Seq, d.Batch.User, len(d.Batch.Changes))
}

func (r *replayer) report() {
	counts := map[change.Category]int{}
	for _, ch := range r.t.GetConsolidated() {
		counts[ch.Category()]++
	}
	fmt.Printf("replay: applied=%d rejected=%d objects=%d\n", r.applied, r.rejected, r.t.ObjectCount())
	for _, cat := range []change.Category{change.Area, change.PlayerArea, change.Token, change.Wall, change.Note, change.Image} {
		fmt.Printf("  %-11s %d\n", cat, counts[cat])
	}
	if c := r.t.Colouring(); c != nil {
		fmt.Printf("  regions     %d\n", c.RegionCount())
	}
}
