package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/config"
	"wallandshadow.io/internal/maps/consolidate"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/persistence/archive"
	persistlog "wallandshadow.io/internal/persistence/log"
	"wallandshadow.io/internal/persistence/r2s3"
	"wallandshadow.io/internal/persistence/store"
	"wallandshadow.io/internal/transport/ws"
)

type app struct {
	st   *store.SQLiteStore
	feed *ws.Server
	log  logrus.FieldLogger

	// backup may be nil; archives are only written when it is set.
	backup     *r2s3.Mirror
	archiveDir string
}

func newApp(cfg config.Config, st *store.SQLiteStore, journal *persistlog.Journal, backup *r2s3.Mirror, logger logrus.FieldLogger) (*app, error) {
	var j ws.Journal
	if journal != nil {
		j = journal
	}
	feed, err := ws.NewServer(st, j, logger, feedConfig(cfg.Feed))
	if err != nil {
		return nil, err
	}
	return &app{
		st:         st,
		feed:       feed,
		log:        logger,
		backup:     backup,
		archiveDir: filepath.Join(cfg.Server.DataDir, "archives"),
	}, nil
}

func (a *app) Close() { a.feed.Close() }

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/maps/{id}/feed", a.feed.Handler())
	mux.HandleFunc("GET /v1/maps/{id}", a.getMap)

	// Map administration is local-only.
	mux.HandleFunc("POST /v1/maps", loopbackOnly(a.createMap))
	mux.HandleFunc("POST /v1/maps/{id}/consolidate", loopbackOnly(a.consolidateMap))
	mux.HandleFunc("POST /v1/maps/{id}/clone", loopbackOnly(a.cloneMap))
	mux.HandleFunc("GET /v1/maps/{id}/archive", loopbackOnly(a.exportMap))
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (a *app) fail(rw http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	a.log.WithError(err).Error("request failed")
	writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
}

func (a *app) getMap(rw http.ResponseWriter, r *http.Request) {
	m, err := a.feed.Map(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, m)
}

func (a *app) createMap(rw http.ResponseWriter, r *http.Request) {
	var m feature.Map
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if m.ID == "" || m.Owner == "" || !m.Ty.Valid() {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "id, owner and a valid ty are required"})
		return
	}
	if err := a.st.PutMap(r.Context(), m); err != nil {
		a.fail(rw, err)
		return
	}
	a.feed.ForgetMap(m.ID)
	writeJSON(rw, http.StatusCreated, m)
}

func (a *app) consolidateMap(rw http.ResponseWriter, r *http.Request) {
	resync := r.URL.Query().Get("resync") == "1"
	res, err := consolidate.Consolidate(r.Context(), a.st, a.log, a.st.Now, r.PathValue("id"), resync)
	if err != nil {
		a.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok":           true,
		"passes":       res.Passes,
		"consolidated": res.Consolidated,
		"lost_races":   res.LostRaces,
	})
}

type cloneRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

func (a *app) cloneMap(rw http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "id is required"})
		return
	}
	src, err := a.st.GetMap(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(rw, err)
		return
	}
	dst := src
	dst.ID = req.ID
	if req.Name != "" {
		dst.Name = req.Name
	}
	if req.Owner != "" {
		dst.Owner = req.Owner
	}
	if err := consolidate.CloneMap(r.Context(), a.st, a.log, a.st.Now, src.ID, dst); err != nil {
		a.fail(rw, err)
		return
	}
	a.feed.ForgetMap(dst.ID)
	writeJSON(rw, http.StatusCreated, dst)
}

func (a *app) exportMap(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := consolidate.Consolidate(r.Context(), a.st, a.log, a.st.Now, id, false); err != nil {
		a.fail(rw, err)
		return
	}
	ar, err := archive.Export(r.Context(), a.st, id, a.st.Now())
	if err != nil {
		a.fail(rw, err)
		return
	}
	rw.Header().Set("Content-Type", "application/zstd")
	rw.Header().Set("Content-Disposition", `attachment; filename="`+id+`.json.zst"`)
	if err := archive.Write(rw, ar); err != nil {
		a.log.WithError(err).WithField("map_id", id).Warn("archive stream")
	}
}

// consolidateLoop folds the change logs of dirty maps every interval.
func (a *app) consolidateLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.consolidateDirty(ctx)
		}
	}
}

func (a *app) consolidateDirty(ctx context.Context) {
	ids, err := a.st.DirtyMaps(ctx)
	if err != nil {
		a.log.WithError(err).Warn("list dirty maps")
		return
	}
	for _, id := range ids {
		res, err := consolidate.Consolidate(ctx, a.st, a.log, a.st.Now, id, false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.WithError(err).WithField("map_id", id).Warn("consolidate")
			continue
		}
		a.log.WithFields(logrus.Fields{"map_id": id, "consolidated": res.Consolidated}).Debug("consolidated map")
		if res.Consolidated > 0 {
			a.backupArchive(ctx, id)
		}
	}
}

// backupArchive exports a freshly consolidated map to <data>/archives/<id>.json.zst
// and hands it to the backup mirror. The file is replaced by rename, so an
// upload still reading the previous export is unaffected.
func (a *app) backupArchive(ctx context.Context, id string) {
	if a.backup == nil {
		return
	}
	log := a.log.WithField("map_id", id)
	ar, err := archive.Export(ctx, a.st, id, a.st.Now())
	if err != nil {
		log.WithError(err).Warn("export for backup")
		return
	}
	if err := os.MkdirAll(a.archiveDir, 0o755); err != nil {
		log.WithError(err).Warn("archive dir")
		return
	}
	path := filepath.Join(a.archiveDir, id+".json.zst")
	if err := archive.WriteFile(path, ar); err != nil {
		log.WithError(err).Warn("write archive")
		return
	}
	a.backup.Enqueue(path)
}
