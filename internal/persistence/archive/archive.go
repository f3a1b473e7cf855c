// Package archive exports a map and its change log as one compressed file.
//
// The format is zstd-compressed JSON lines: a header holding the map record,
// then the base batch if there is one, then incrementals in feed order.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/persistence/store"
)

const Version = 1

var ErrBadArchive = errors.New("archive: malformed")

type Header struct {
	Version   int         `json:"version"`
	Map       feature.Map `json:"map"`
	CreatedAt int64       `json:"created_at"`
	Docs      int         `json:"docs"`
}

type Archive struct {
	Header Header
	Docs   []store.Doc
}

// Base returns the archived base batch, if any.
func (a Archive) Base() (store.Doc, bool) {
	if len(a.Docs) > 0 && a.Docs[0].ID == store.BaseID {
		return a.Docs[0], true
	}
	return store.Doc{}, false
}

func Write(w io.Writer, a Archive) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	a.Header.Version = Version
	a.Header.Docs = len(a.Docs)
	je := json.NewEncoder(bw)
	if err := je.Encode(a.Header); err != nil {
		_ = enc.Close()
		return err
	}
	for _, d := range a.Docs {
		if err := je.Encode(d); err != nil {
			_ = enc.Close()
			return fmt.Errorf("encode %s: %w", d.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(r io.Reader) (Archive, error) {
	var a Archive
	dec, err := zstd.NewReader(r)
	if err != nil {
		return a, err
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024))
	if err := jd.Decode(&a.Header); err != nil {
		return a, fmt.Errorf("%w: header: %v", ErrBadArchive, err)
	}
	if a.Header.Version != Version {
		return a, fmt.Errorf("%w: version %d", ErrBadArchive, a.Header.Version)
	}
	a.Docs = make([]store.Doc, 0, a.Header.Docs)
	for {
		var d store.Doc
		err := jd.Decode(&d)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return a, fmt.Errorf("%w: doc %d: %v", ErrBadArchive, len(a.Docs), err)
		}
		a.Docs = append(a.Docs, d)
	}
	if len(a.Docs) != a.Header.Docs {
		return a, fmt.Errorf("%w: %d docs, header says %d", ErrBadArchive, len(a.Docs), a.Header.Docs)
	}
	return a, nil
}

func WriteFile(path string, a Archive) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Write(f, a); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func ReadFile(path string) (Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return Archive{}, err
	}
	defer f.Close()
	return Read(f)
}
