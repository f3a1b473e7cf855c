package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wallandshadow.io/internal/maps/policy"
)

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	yml := `
server:
  addr: ":9000"
  consolidate_every: 30s
log:
  level: DEBUG
policy:
  levels:
    gold:
      objects: 20000
      objects_warning: 19000
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("WS_SERVER_DATA_DIR", "/srv/maps")
	t.Setenv("WS_FEED_MAX_QUEUE", "5000")
	t.Setenv("WS_BACKUP_BUCKET", "vtt-backups")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":9000" || c.Server.ConsolidateEvery != 30*time.Second {
		t.Fatalf("server = %+v", c.Server)
	}
	if c.Server.DataDir != "/srv/maps" {
		t.Fatalf("env override lost: %q", c.Server.DataDir)
	}
	if c.Feed.MaxQueue != 1024 {
		t.Fatalf("max queue = %d, want clamp to 1024", c.Feed.MaxQueue)
	}
	if c.Backup.Enabled() || c.Backup.Bucket != "vtt-backups" || c.Backup.Prefix != "maps" {
		t.Fatalf("backup = %+v", c.Backup)
	}
	if c.Log.Level != "debug" {
		t.Fatalf("log level = %q", c.Log.Level)
	}
	if got := c.Policy.For(policy.Gold).Objects; got != 20000 {
		t.Fatalf("gold objects = %d", got)
	}
	if got := c.Policy.For(policy.Standard).Objects; got != 10000 {
		t.Fatalf("standard objects = %d", got)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":8080" || c.Feed.ReadTimeout != time.Minute {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Log.Format = "xml"
	if err := c.Validate(); err == nil {
		t.Fatalf("xml format accepted")
	}
	c = Default()
	c.Backup.Endpoint = "https://r2.example"
	if err := c.Validate(); err == nil {
		t.Fatalf("backup without credentials accepted")
	}
	c = Default()
	c.Policy.Levels[policy.Standard] = policy.Limits{Objects: 10, ObjectsWarning: 20}
	if err := c.Validate(); err == nil {
		t.Fatalf("warning above cap accepted")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	l := Default().Log
	l.Format = "json"
	l.File = filepath.Join(t.TempDir(), "server.log")
	var stdout bytes.Buffer
	logger, closer, err := l.NewLogger(&stdout)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.WithField("map_id", "m1").Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(l.File)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"map_id":"m1"`) || !strings.Contains(stdout.String(), `"msg":"hello"`) {
		t.Fatalf("file %q stdout %q", raw, stdout.String())
	}
}
