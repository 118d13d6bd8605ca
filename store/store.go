// Package store persists compiled code in SQLite. Segments are stored as
// CBOR-encoded dist.Code blobs keyed by segment id, alongside their content
// hash, so that a program can be restored without recompiling and a segment
// can be found by content.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrSegmentNotFound indicates the requested segment isn't stored.
var ErrSegmentNotFound = errors.New("segment not found")

// ErrConflict indicates an id is already stored with different content.
var ErrConflict = errors.New("segment id already stored with different content")

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	id   INTEGER PRIMARY KEY,
	hash INTEGER NOT NULL,
	code BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS segments_hash ON segments (hash);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Store is a SQLite-backed code cache.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes writers
	log  commonlog.Logger
}

// Open opens or creates the cache at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would be its own in-memory database.
		db.SetMaxOpenConns(1)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	s := &Store{db: db, path: path, log: commonlog.GetLogger("atlas.store")}
	s.log.Debugf("opened code store %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Put stores seg under id. Storing identical content again is a no-op;
// different content under a stored id is ErrConflict.
func (s *Store) Put(ctx context.Context, id vm.SegmentID, seg *vm.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := putTx(ctx, tx, id, seg); err != nil {
		return err
	}
	return tx.Commit()
}

func putTx(ctx context.Context, tx *sql.Tx, id vm.SegmentID, seg *vm.Segment) error {
	var hash int64
	err := tx.QueryRowContext(ctx, "SELECT hash FROM segments WHERE id = ?", int64(id)).Scan(&hash)
	switch {
	case err == nil:
		if vm.CodeHash(hash) != seg.Hash() {
			return fmt.Errorf("storing segment %d: %w", id, ErrConflict)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("querying segment %d: %w", id, err)
	}

	code := dist.CodeFromSegment(id, seg)
	blob, err := dist.MarshalCode(&code)
	if err != nil {
		return fmt.Errorf("encoding segment %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO segments (id, hash, code) VALUES (?, ?, ?)",
		int64(id), int64(seg.Hash()), blob,
	); err != nil {
		return fmt.Errorf("saving segment %d: %w", id, err)
	}
	return nil
}

// Get loads the segment stored under id.
func (s *Store) Get(ctx context.Context, id vm.SegmentID) (*vm.Segment, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT code FROM segments WHERE id = ?", int64(id)).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("segment %d: %w", id, ErrSegmentNotFound)
		}
		return nil, fmt.Errorf("querying segment %d: %w", id, err)
	}
	return decode(blob)
}

// LookupHash returns the ids stored with content hash h, in id order.
func (s *Store) LookupHash(ctx context.Context, h vm.CodeHash) ([]vm.SegmentID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM segments WHERE hash = ? ORDER BY id", int64(h))
	if err != nil {
		return nil, fmt.Errorf("querying hash %016x: %w", uint64(h), err)
	}
	defer rows.Close()
	var ids []vm.SegmentID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, vm.SegmentID(id))
	}
	return ids, rows.Err()
}

// SaveProgram stores every registered segment of p and its id counter in
// one transaction.
func (s *Store) SaveProgram(ctx context.Context, p *vm.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range p.IDs() {
		seg, err := p.Segment(id)
		if err != nil {
			return err
		}
		if err := putTx(ctx, tx, id, seg); err != nil {
			return err
		}
	}
	next, err := nextIDTx(ctx, tx)
	if err != nil {
		return err
	}
	if n := p.NextID(); n > next {
		next = n
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('next_id', ?)",
		strconv.FormatUint(uint64(next), 10),
	); err != nil {
		return fmt.Errorf("saving next id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debugf("saved %d segments (next id %d)", p.Len(), next)
	return nil
}

// LoadProgram restores the stored program with its original ids.
func (s *Store) LoadProgram(ctx context.Context) (*vm.Program, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	next, err := nextIDTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, "SELECT id, code FROM segments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	defer rows.Close()

	p := vm.NewProgram()
	p.Reserve(next)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		if id < 0 {
			return nil, fmt.Errorf("corrupt segment id %d", id)
		}
		seg, err := decode(blob)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", id, err)
		}
		p.Reserve(vm.SegmentID(id) + 1)
		if err := p.Register(vm.SegmentID(id), seg); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func nextIDTx(ctx context.Context, tx *sql.Tx) (vm.SegmentID, error) {
	var v string
	err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'next_id'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying next id: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt next id %q: %w", v, err)
	}
	return vm.SegmentID(n), nil
}

func decode(blob []byte) (*vm.Segment, error) {
	code, err := dist.UnmarshalCode(blob)
	if err != nil {
		return nil, err
	}
	return dist.SegmentFromCode(code)
}
