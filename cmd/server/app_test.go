package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"wallandshadow.io/internal/config"
	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
	"wallandshadow.io/internal/persistence/archive"
	"wallandshadow.io/internal/persistence/r2s3"
	"wallandshadow.io/internal/persistence/store"
)

func newTestApp(t *testing.T) (*app, *http.ServeMux) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "maps.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	logger, _ := logtest.NewNullLogger()
	a, err := newApp(config.Default(), st, nil, nil, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a, a.routes()
}

func do(mux *http.ServeMux, method, path, body string, loopback bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if loopback {
		req.RemoteAddr = "127.0.0.1:40000"
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesAreLoopbackOnly(t *testing.T) {
	_, mux := newTestApp(t)
	body := `{"id":"map1","name":"Vault","owner":"owner","ty":"square"}`
	if rec := do(mux, http.MethodPost, "/v1/maps", body, false); rec.Code != http.StatusForbidden {
		t.Fatalf("remote create status=%d", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/v1/maps", body, true); rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body)
	}
	if rec := do(mux, http.MethodPost, "/v1/maps", `{"id":"bad","owner":"o","ty":"triangle"}`, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad grid status=%d", rec.Code)
	}
	rec := do(mux, http.MethodGet, "/v1/maps/map1", "", false)
	var m feature.Map
	_ = json.Unmarshal(rec.Body.Bytes(), &m)
	if rec.Code != http.StatusOK || m.Owner != "owner" || m.Ty != grid.Square {
		t.Fatalf("get map status=%d map=%+v", rec.Code, m)
	}
	if rec := do(mux, http.MethodGet, "/v1/maps/nope", "", false); rec.Code != http.StatusNotFound {
		t.Fatalf("missing map status=%d", rec.Code)
	}
}

func TestConsolidateCloneAndExport(t *testing.T) {
	a, mux := newTestApp(t)
	ctx := context.Background()
	if err := a.st.PutMap(ctx, feature.Map{ID: "map1", Name: "Vault", Owner: "owner", Ty: grid.Hex}); err != nil {
		t.Fatalf("put map: %v", err)
	}
	for x := range 3 {
		b := change.Batch{Changes: change.List{change.WallAdd{Feature: feature.Wall{Position: grid.Edge{X: x, Y: 0, Index: 2}}}}, User: "owner"}
		if _, err := a.st.AddChanges(ctx, "map1", "", b); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	rec := do(mux, http.MethodPost, "/v1/maps/map1/consolidate?resync=1", "", true)
	var res struct {
		OK           bool `json:"ok"`
		Consolidated int  `json:"consolidated"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if rec.Code != http.StatusOK || !res.OK || res.Consolidated != 3 {
		t.Fatalf("consolidate status=%d body=%s", rec.Code, rec.Body)
	}
	base, ok, err := a.st.GetBase(ctx, "map1")
	if err != nil || !ok || !base.Batch.Resync || len(base.Batch.Changes) != 3 {
		t.Fatalf("base = %+v ok=%v err=%v", base.Batch, ok, err)
	}

	if rec := do(mux, http.MethodPost, "/v1/maps/map1/clone", `{"id":"map2","owner":"gm2"}`, true); rec.Code != http.StatusCreated {
		t.Fatalf("clone status=%d body=%s", rec.Code, rec.Body)
	}
	clone, err := a.st.GetMap(ctx, "map2")
	if err != nil || clone.Owner != "gm2" || clone.Ty != grid.Hex {
		t.Fatalf("clone = %+v, %v", clone, err)
	}

	rec = do(mux, http.MethodGet, "/v1/maps/map2/archive", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status=%d", rec.Code)
	}
	ar, err := archive.Read(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if ar.Header.Map.ID != "map2" || ar.State().ObjectCount() != 3 {
		t.Fatalf("archive header=%+v objects=%d", ar.Header, ar.State().ObjectCount())
	}
}

func TestBackgroundConsolidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.st.PutMap(ctx, feature.Map{ID: "map1", Owner: "owner", Ty: grid.Square}); err != nil {
		t.Fatalf("put map: %v", err)
	}
	b := change.Batch{Changes: change.List{change.AreaAdd{Feature: feature.Area{Position: grid.Coord{X: 1, Y: 1}, Colour: 2}}}, User: "owner"}
	if _, err := a.st.AddChanges(ctx, "map1", "", b); err != nil {
		t.Fatalf("add: %v", err)
	}
	a.consolidateDirty(ctx)
	dirty, err := a.st.DirtyMaps(ctx)
	if err != nil || len(dirty) != 0 {
		t.Fatalf("dirty after pass = %v, %v", dirty, err)
	}
}

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *recordingUploader) PutFile(_ context.Context, key, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return nil
}

func TestBackgroundConsolidationBacksUpArchive(t *testing.T) {
	dir := t.TempDir()
	st, err := store.OpenSQLite(filepath.Join(dir, "maps.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	logger, _ := logtest.NewNullLogger()
	up := &recordingUploader{}
	mirror := r2s3.NewMirror(up, r2s3.MirrorConfig{DataDir: dir, Prefix: "maps"}, logger)
	cfg := config.Default()
	cfg.Server.DataDir = dir
	a, err := newApp(cfg, st, nil, mirror, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)

	ctx := context.Background()
	if err := st.PutMap(ctx, feature.Map{ID: "map1", Owner: "owner", Ty: grid.Square}); err != nil {
		t.Fatalf("put map: %v", err)
	}
	b := change.Batch{Changes: change.List{change.AreaAdd{Feature: feature.Area{Position: grid.Coord{X: 1, Y: 1}, Colour: 2}}}, User: "owner"}
	if _, err := st.AddChanges(ctx, "map1", "", b); err != nil {
		t.Fatalf("add: %v", err)
	}
	a.consolidateDirty(ctx)
	// A second pass finds nothing new and must not upload again.
	a.consolidateDirty(ctx)
	mirror.Close()

	if len(up.keys) != 1 || up.keys[0] != "maps/archives/map1.json.zst" {
		t.Fatalf("uploaded keys = %v", up.keys)
	}
	ar, err := archive.ReadFile(filepath.Join(dir, "archives", "map1.json.zst"))
	if err != nil || ar.State().ObjectCount() != 1 {
		t.Fatalf("archive on disk: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, mux := newTestApp(t)
	rec := do(mux, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ws_feed_subscribers") {
		t.Fatalf("metrics status=%d", rec.Code)
	}
}
