package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/maps/consolidate"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
	"wallandshadow.io/internal/persistence/archive"
	"wallandshadow.io/internal/persistence/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "create":
			createCmd(os.Args[2:])
			return
		case "consolidate":
			consolidateCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "clone":
			cloneCmd(os.Args[2:])
			return
		case "remote":
			remoteCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func storeFlag(fs *flag.FlagSet) *string {
	return fs.String("data", "./data", "runtime data directory (holds maps.sqlite)")
}

func openStore(dataDir string) *store.SQLiteStore {
	st, err := store.OpenSQLite(filepath.Join(dataDir, "maps.sqlite"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	st.SetClock(store.MonotonicClock(time.Now))
	return st
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := storeFlag(fs)
	dirty := fs.Bool("dirty", false, "only maps with unconsolidated changes")
	_ = fs.Parse(args)

	st := openStore(*dataDir)
	defer st.Close()
	ctx := context.Background()

	if *dirty {
		ids, err := st.DirtyMaps(ctx)
		if err != nil {
			fail("dirty maps", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}
	maps, err := st.ListMaps(ctx)
	if err != nil {
		fail("list maps", err)
	}
	for _, m := range maps {
		fmt.Printf("%s\t%s\t%s\towner=%s\tffa=%v\n", m.ID, m.Ty, m.Name, m.Owner, m.FFA)
	}
}

func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dataDir := storeFlag(fs)
	id := fs.String("id", "", "map id")
	name := fs.String("name", "", "map name")
	owner := fs.String("owner", "", "owner user id")
	adventure := fs.String("adventure", "", "adventure id (optional)")
	ty := fs.String("grid", string(grid.Square), "grid type: square or hex")
	ffa := fs.Bool("ffa", false, "free for all: every user may edit")
	_ = fs.Parse(args)

	m := feature.Map{
		ID:          strings.TrimSpace(*id),
		AdventureID: *adventure,
		Name:        *name,
		Owner:       strings.TrimSpace(*owner),
		Ty:          grid.Type(*ty),
		FFA:         *ffa,
	}
	if m.ID == "" || m.Owner == "" || !m.Ty.Valid() {
		fmt.Fprintln(os.Stderr, "need -id, -owner and a valid -grid")
		os.Exit(2)
	}
	st := openStore(*dataDir)
	defer st.Close()
	if err := st.PutMap(context.Background(), m); err != nil {
		fail("create", err)
	}
}

func consolidateCmd(args []string) {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	dataDir := storeFlag(fs)
	mapID := fs.String("map", "", "map id (default: every map with unconsolidated changes)")
	resync := fs.Bool("resync", false, "flag the new base so clients rebuild from it")
	verbose := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(args)

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	st := openStore(*dataDir)
	defer st.Close()
	ctx := context.Background()

	ids := []string{*mapID}
	if *mapID == "" {
		var err error
		if ids, err = st.DirtyMaps(ctx); err != nil {
			fail("dirty maps", err)
		}
	}
	for _, id := range ids {
		res, err := consolidate.Consolidate(ctx, st, logger, st.Now, id, *resync)
		if err != nil {
			fail("consolidate", err)
		}
		fmt.Printf("%s\tpasses=%d consolidated=%d lost_races=%d\n", id, res.Passes, res.Consolidated, res.LostRaces)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := storeFlag(fs)
	mapID := fs.String("map", "", "map id")
	out := fs.String("out", "", "output path (default: <data>/archives/<map>.json.zst)")
	_ = fs.Parse(args)

	if *mapID == "" {
		fmt.Fprintln(os.Stderr, "missing -map")
		os.Exit(2)
	}
	st := openStore(*dataDir)
	defer st.Close()

	a, err := archive.Export(context.Background(), st, *mapID, st.Now())
	if err != nil {
		fail("export", err)
	}
	path := *out
	if path == "" {
		path = filepath.Join(*dataDir, "archives", *mapID+".json.zst")
	}
	if err := archive.WriteFile(path, a); err != nil {
		fail("write archive", err)
	}
	fmt.Printf("exported %s docs=%d -> %s\n", *mapID, len(a.Docs), path)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dataDir := storeFlag(fs)
	in := fs.String("in", "", "archive path")
	mapID := fs.String("as", "", "map id to import under (default: archived id)")
	_ = fs.Parse(args)

	if *in == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	a, err := archive.ReadFile(*in)
	if err != nil {
		fail("read archive", err)
	}
	st := openStore(*dataDir)
	defer st.Close()
	m, err := archive.Restore(context.Background(), st, a, *mapID, st.Now())
	if err != nil {
		fail("import", err)
	}
	fmt.Printf("imported %s (%q)\n", m.ID, m.Name)
}

func cloneCmd(args []string) {
	fs := flag.NewFlagSet("clone", flag.ExitOnError)
	dataDir := storeFlag(fs)
	src := fs.String("from", "", "source map id")
	dst := fs.String("to", "", "new map id")
	name := fs.String("name", "", "new map name (default: source name)")
	owner := fs.String("owner", "", "new owner (default: source owner)")
	_ = fs.Parse(args)

	if *src == "" || *dst == "" {
		fmt.Fprintln(os.Stderr, "need -from and -to")
		os.Exit(2)
	}
	st := openStore(*dataDir)
	defer st.Close()
	ctx := context.Background()

	m, err := st.GetMap(ctx, *src)
	if err != nil {
		fail("clone", err)
	}
	m.ID = *dst
	if *name != "" {
		m.Name = *name
	}
	if *owner != "" {
		m.Owner = *owner
	}
	if err := consolidate.CloneMap(ctx, st, logrus.New(), st.Now, *src, m); err != nil {
		fail("clone", err)
	}
}
