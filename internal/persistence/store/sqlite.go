package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/maps/grid"
)

var ErrConflict = errors.New("document already exists")

type SQLiteStore struct {
	db *sql.DB

	now    func() int64
	notify notifier
	// appendMu covers minting a batch timestamp and inserting its row, so
	// timestamp order and seq order agree.
	appendMu sync.Mutex

	once   sync.Once
	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: MonotonicClock(nil)}, nil
}

// SetClock replaces the source of batch timestamps.
func (s *SQLiteStore) SetClock(now func() int64) { s.now = now }

// Now returns a timestamp from the store's clock.
func (s *SQLiteStore) Now() int64 { return s.now() }

// MonotonicClock returns Unix milliseconds from base (time.Now when nil) that
// never repeat or go backwards within this process.
func MonotonicClock(base func() time.Time) func() int64 {
	if base == nil {
		base = time.Now
	}
	var (
		mu   sync.Mutex
		last int64
	)
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		t := base().UnixMilli()
		if t <= last {
			t = last + 1
		}
		last = t
		return t
	}
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS maps (
			id TEXT PRIMARY KEY,
			adventure_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			owner TEXT NOT NULL,
			ty TEXT NOT NULL,
			ffa INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			map_id TEXT NOT NULL REFERENCES maps(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			incremental INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			user TEXT NOT NULL,
			batch_json TEXT NOT NULL,
			UNIQUE (map_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_map_seq ON changes(map_id, incremental, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.notify.closeAll()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) PutMap(ctx context.Context, m feature.Map) error {
	if m.ID == "" {
		return fmt.Errorf("put map: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO maps(id,adventure_id,name,description,owner,ty,ffa) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET adventure_id=excluded.adventure_id, name=excluded.name,
		 description=excluded.description, owner=excluded.owner, ty=excluded.ty, ffa=excluded.ffa`,
		m.ID, m.AdventureID, m.Name, m.Description, m.Owner, string(m.Ty), m.FFA,
	)
	if err != nil {
		return fmt.Errorf("put map %s: %w", m.ID, err)
	}
	return nil
}

const mapColumns = `id,adventure_id,name,description,owner,ty,ffa`

type scanner interface {
	Scan(dest ...any) error
}

func scanMap(r scanner) (feature.Map, error) {
	var (
		m  feature.Map
		ty string
	)
	if err := r.Scan(&m.ID, &m.AdventureID, &m.Name, &m.Description, &m.Owner, &ty, &m.FFA); err != nil {
		return feature.Map{}, err
	}
	m.Ty = grid.Type(ty)
	return m, nil
}

func (s *SQLiteStore) GetMap(ctx context.Context, mapID string) (feature.Map, error) {
	m, err := scanMap(s.db.QueryRowContext(ctx, `SELECT `+mapColumns+` FROM maps WHERE id=?`, mapID))
	if errors.Is(err, sql.ErrNoRows) {
		return feature.Map{}, fmt.Errorf("map %s: %w", mapID, ErrNotFound)
	}
	if err != nil {
		return feature.Map{}, fmt.Errorf("get map %s: %w", mapID, err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMaps(ctx context.Context) ([]feature.Map, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mapColumns+` FROM maps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list maps: %w", err)
	}
	defer rows.Close()
	var out []feature.Map
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("list maps: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DirtyMaps lists the maps that have incremental batches waiting to be consolidated.
func (s *SQLiteStore) DirtyMaps(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT map_id FROM changes WHERE incremental=1 ORDER BY map_id`)
	if err != nil {
		return nil, fmt.Errorf("dirty maps: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dirty maps: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const docColumns = `seq,id,batch_json`

func scanDoc(r scanner) (Doc, error) {
	var (
		d   Doc
		raw string
	)
	if err := r.Scan(&d.Seq, &d.ID, &raw); err != nil {
		return Doc{}, err
	}
	if err := json.Unmarshal([]byte(raw), &d.Batch); err != nil {
		return Doc{}, fmt.Errorf("decode batch %s: %w", d.ID, err)
	}
	return d, nil
}

func getBase(ctx context.Context, q querier, mapID string) (Doc, bool, error) {
	d, err := scanDoc(q.QueryRowContext(ctx, `SELECT `+docColumns+` FROM changes WHERE map_id=? AND id=?`, mapID, BaseID))
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, fmt.Errorf("get base %s: %w", mapID, err)
	}
	return d, true, nil
}

func listIncremental(ctx context.Context, q querier, mapID string, afterSeq int64, limit int) ([]Doc, error) {
	query := `SELECT ` + docColumns + ` FROM changes WHERE map_id=? AND incremental=1 AND seq>? ORDER BY seq`
	args := []any{mapID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incremental %s: %w", mapID, err)
	}
	defer rows.Close()
	var out []Doc
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("list incremental %s: %w", mapID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetBase(ctx context.Context, mapID string) (Doc, bool, error) {
	return getBase(ctx, s.db, mapID)
}

func (s *SQLiteStore) ListIncremental(ctx context.Context, mapID string, limit int) ([]Doc, error) {
	return listIncremental(ctx, s.db, mapID, 0, limit)
}

// AddChanges appends an incremental batch. An empty id gets a fresh ULID; a
// caller-chosen id must be a ULID and must not already exist. Appends are
// serialized, so a later seq always carries a later timestamp.
func (s *SQLiteStore) AddChanges(ctx context.Context, mapID, id string, b change.Batch) (Doc, error) {
	if s.closed.Load() {
		return Doc{}, ErrClosed
	}
	if id == "" {
		id = ulid.Make().String()
	} else if _, err := ulid.ParseStrict(id); err != nil {
		return Doc{}, fmt.Errorf("batch id %q: %w", id, err)
	}
	if _, err := s.GetMap(ctx, mapID); err != nil {
		return Doc{}, err
	}
	b.Incremental = true
	b.Resync = false

	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	b.Timestamp = s.now()
	raw, err := change.Encode(b)
	if err != nil {
		return Doc{}, fmt.Errorf("encode batch: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO changes(map_id,id,incremental,timestamp,user,batch_json) VALUES(?,?,1,?,?,?)`,
		mapID, id, b.Timestamp, b.User, string(raw),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Doc{}, fmt.Errorf("batch %s: %w", id, ErrConflict)
		}
		return Doc{}, fmt.Errorf("add changes %s: %w", mapID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Doc{}, fmt.Errorf("add changes %s: %w", mapID, err)
	}
	s.notify.signal(mapID)
	return Doc{ID: id, Seq: seq, Batch: b}, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) RunTransaction(ctx context.Context, mapID string, fn func(Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stx := &sqliteTx{tx: tx, mapID: mapID}
	if err := fn(stx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	if stx.writes > 0 {
		s.notify.signal(mapID)
	}
	return nil
}

type sqliteTx struct {
	tx     *sql.Tx
	mapID  string
	writes int
}

func (t *sqliteTx) spend(n int) error {
	if t.writes+n > MaxTxWrites {
		return fmt.Errorf("%d writes: %w", t.writes+n, ErrTooManyOperations)
	}
	t.writes += n
	return nil
}

func (t *sqliteTx) GetBase(ctx context.Context) (Doc, bool, error) {
	return getBase(ctx, t.tx, t.mapID)
}

// SetBase replaces the base batch. The new row takes a fresh seq.
func (t *sqliteTx) SetBase(ctx context.Context, b change.Batch) error {
	if err := t.spend(1); err != nil {
		return err
	}
	b.Incremental = false
	raw, err := change.Encode(b)
	if err != nil {
		return fmt.Errorf("encode base: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM changes WHERE map_id=? AND id=?`, t.mapID, BaseID); err != nil {
		return fmt.Errorf("set base %s: %w", t.mapID, err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO changes(map_id,id,incremental,timestamp,user,batch_json) VALUES(?,?,0,?,?,?)`,
		t.mapID, BaseID, b.Timestamp, b.User, string(raw),
	); err != nil {
		return fmt.Errorf("set base %s: %w", t.mapID, err)
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, ids ...string) error {
	if err := t.spend(len(ids)); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM changes WHERE map_id=? AND id=?`, t.mapID, id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", t.mapID, id, err)
		}
	}
	return nil
}
