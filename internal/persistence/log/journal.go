package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"wallandshadow.io/internal/persistence/store"
)

// Entry is one journal line: a batch as it was accepted by the store.
type Entry struct {
	MapID string    `json:"map_id"`
	Doc   store.Doc `json:"doc"`
}

// Journal records every accepted batch under <dir>/<map id>/, independent of
// consolidation, so a map's full history can be replayed later.
type Journal struct {
	dir      string
	onClosed func(path string)

	mu      sync.Mutex
	writers map[string]*JSONLZstdWriter
}

func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, writers: map[string]*JSONLZstdWriter{}}
}

// OnFileClosed registers fn to receive each journal file once it will no
// longer be appended to in this process. It must be called before the first
// Write.
func (j *Journal) OnFileClosed(fn func(path string)) {
	j.mu.Lock()
	j.onClosed = fn
	j.mu.Unlock()
}

func (j *Journal) Write(mapID string, d store.Doc) error {
	j.mu.Lock()
	w, ok := j.writers[mapID]
	if !ok {
		w = NewJSONLZstdWriter(filepath.Join(j.dir, mapID), "changes")
		w.onClosed = j.onClosed
		j.writers[mapID] = w
	}
	j.mu.Unlock()
	return w.Write(Entry{MapID: mapID, Doc: d})
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for id, w := range j.writers {
		errs = append(errs, w.Close())
		delete(j.writers, id)
	}
	return errors.Join(errs...)
}

// Files lists a map's journal files, oldest first.
func (j *Journal) Files(mapID string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(j.dir, mapID, "changes-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadEntries decodes every line of one journal file. A truncated last line,
// left by a crash mid-write, is dropped.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	br := bufio.NewReaderSize(dec, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var e Entry
			if jerr := json.Unmarshal(line, &e); jerr != nil {
				return out, fmt.Errorf("%s: %w", path, jerr)
			}
			out = append(out, e)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
	}
}
