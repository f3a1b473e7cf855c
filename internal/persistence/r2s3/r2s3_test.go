package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestPutFileSignsRequest(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "backups", "AKID", "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "a.zst")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "/maps/journal/map 1/x.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	if gotPath != "/backups/maps/journal/map%201/x.zst" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody != "payload" || gotHash != sha256Hex([]byte("payload")) {
		t.Fatalf("body=%q hash=%q", gotBody, gotHash)
	}
	want := "AWS4-HMAC-SHA256 Credential=AKID/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(gotAuth, want) {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestPutReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(srv.URL, "b", "k", "s")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Put(context.Background(), "k", strings.NewReader("x"), 1)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("err = %v", err)
	}
	if err := c.Put(context.Background(), "../escape", strings.NewReader("x"), 1); err == nil {
		t.Fatalf("key outside bucket root accepted")
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New("r2.example", "b", "", "s"); err == nil {
		t.Fatalf("missing key id accepted")
	}
	c, err := New("r2.example/", "b", "k", "s")
	if err != nil || c.endpoint != "https://r2.example" {
		t.Fatalf("endpoint = %v, %v", c, err)
	}
}

type flakyUploader struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	done     []string
}

func (u *flakyUploader) PutFile(_ context.Context, key, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.calls == nil {
		u.calls = map[string]int{}
	}
	u.calls[key]++
	if u.calls[key] <= u.failures {
		return errors.New("503 slow down")
	}
	u.done = append(u.done, key)
	return nil
}

func TestMirrorRetriesAndSkips(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "journal", "map1", "changes-2026-03-01-10.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "stray.zst")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	logger, hook := logtest.NewNullLogger()
	up := &flakyUploader{failures: 2}
	m := NewMirror(up, MirrorConfig{
		DataDir: dir,
		Prefix:  "/maps/",
		Backoff: func(int) time.Duration { return 0 },
	}, logger)
	m.Enqueue(inside)
	m.Enqueue(outside)
	m.Close()

	if len(up.done) != 1 || up.done[0] != "maps/journal/map1/changes-2026-03-01-10.jsonl.zst" {
		t.Fatalf("uploaded = %v", up.done)
	}
	if up.calls[up.done[0]] != 3 {
		t.Fatalf("attempts = %d", up.calls[up.done[0]])
	}
	var skipped bool
	for _, e := range hook.AllEntries() {
		if e.Message == "backup skipped" && e.Data["path"] == outside {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("file outside data dir was not reported")
	}
}

func TestMirrorGivesUp(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.zst")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	logger, hook := logtest.NewNullLogger()
	up := &flakyUploader{failures: 100}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Attempts: 2, Backoff: func(int) time.Duration { return 0 }}, logger)
	m.Enqueue(p)
	m.Close()

	if up.calls["a.zst"] != 2 || len(up.done) != 0 {
		t.Fatalf("calls=%v done=%v", up.calls, up.done)
	}
	if last := hook.LastEntry(); last == nil || last.Message != "backup upload failed" {
		t.Fatalf("last log = %+v", last)
	}
}

func TestNilMirror(t *testing.T) {
	var m *Mirror
	m.Enqueue("anything")
	m.Close()
}

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"/maps/a.zst":   "maps/a.zst",
		`maps\b\c.zst`:  "maps/b/c.zst",
		"maps//./d.zst": "maps/d.zst",
		"maps/../e.zst": "",
		"..":            "",
		" / ":           "",
		"maps/f..g.zst": "maps/f..g.zst",
	}
	for in, want := range cases {
		got, ok := cleanKey(in)
		if want == "" {
			if ok {
				t.Fatalf("cleanKey(%q) = %q, want refusal", in, got)
			}
			continue
		}
		if !ok || got != want {
			t.Fatalf("cleanKey(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
}
