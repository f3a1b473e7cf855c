package r2s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/metrics"
)

// Uploader is the subset of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type MirrorConfig struct {
	// DataDir is the root every mirrored file must live under; object keys
	// are the path relative to it.
	DataDir     string
	Prefix      string
	Workers     int
	QueueSize   int
	EnqueueWait time.Duration
	Attempts    int
	// Backoff returns the delay before retry n (1-based).
	Backoff func(n int) time.Duration
}

func (c *MirrorConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 25 * time.Millisecond
	}
	if c.Attempts <= 0 {
		c.Attempts = 4
	}
	if c.Backoff == nil {
		c.Backoff = func(n int) time.Duration {
			return time.Duration(n*n) * 200 * time.Millisecond
		}
	}
	c.Prefix = strings.Trim(strings.ReplaceAll(c.Prefix, "\\", "/"), "/")
}

// Mirror copies closed journal files and map archives to a bucket in the
// background. A nil *Mirror accepts and ignores every call.
type Mirror struct {
	up  Uploader
	cfg MirrorConfig
	log logrus.FieldLogger

	jobs chan string
	wg   sync.WaitGroup
}

func NewMirror(up Uploader, cfg MirrorConfig, log logrus.FieldLogger) *Mirror {
	cfg.normalize()
	m := &Mirror{
		up:   up,
		cfg:  cfg,
		log:  log.WithField("component", "backup"),
		jobs: make(chan string, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				metrics.BackupQueueDepth.Set(float64(len(m.jobs)))
				m.upload(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It waits at most EnqueueWait for
// queue space and drops the file after that, so callers on the edit path
// never stall behind a slow bucket.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	select {
	case m.jobs <- localPath:
		metrics.BackupQueueDepth.Set(float64(len(m.jobs)))
		return
	default:
	}

	timer := time.NewTimer(m.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		metrics.BackupQueueDepth.Set(float64(len(m.jobs)))
	case <-timer.C:
		metrics.BackupUploads.WithLabelValues(metrics.UploadDropped).Inc()
		m.log.WithField("path", localPath).Warn("backup queue full, dropping file")
	}
}

// Close stops accepting files and waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) upload(localPath string) {
	log := m.log.WithField("path", localPath)
	key, err := m.objectKey(localPath)
	if err != nil {
		metrics.BackupUploads.WithLabelValues(metrics.UploadSkipped).Inc()
		log.WithError(err).Warn("backup skipped")
		return
	}
	log = log.WithField("key", key)

	if err := m.uploadWithRetry(key, localPath); err != nil {
		metrics.BackupUploads.WithLabelValues(metrics.UploadFailed).Inc()
		log.WithError(err).Error("backup upload failed")
		return
	}
	metrics.BackupUploads.WithLabelValues(metrics.UploadOK).Inc()
	log.Debug("backup uploaded")
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < m.cfg.Attempts {
			time.Sleep(m.cfg.Backoff(attempt))
		}
	}
	return fmt.Errorf("after %d attempts: %w", m.cfg.Attempts, lastErr)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.cfg.DataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.cfg.Prefix != "" {
		rel = path.Join(m.cfg.Prefix, rel)
	}
	return rel, nil
}
