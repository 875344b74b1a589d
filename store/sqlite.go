package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const DefaultSQLitePath = ".vcgraph/objects.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS commits (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS branches (
	name TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);
`

// SQLiteStore persists objects, commits and branches in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path. The special
// path ":memory:" keeps everything in memory.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", hash, err)
	}
	return data, nil
}

func (s *SQLiteStore) Put(ctx context.Context, hash string, data []byte) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO objects (hash, data) VALUES (?, ?)`, hash, data); err != nil {
		return fmt.Errorf("failed to write object %s: %w", hash, err)
	}
	return nil
}

func (s *SQLiteStore) Has(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM objects WHERE hash = ?`, hash).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check object %s: %w", hash, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MakeCommit(ctx context.Context, parents []string, rootHash string, objects map[string][]byte, message string) (*Commit, error) {
	c, data, err := newCommit(parents, rootHash, message)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	for hash, obj := range objects {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO objects (hash, data) VALUES (?, ?)`, hash, obj); err != nil {
			return nil, fmt.Errorf("failed to write object %s: %w", hash, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO commits (hash, data) VALUES (?, ?)`, c.Hash, data); err != nil {
		return nil, fmt.Errorf("failed to write commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) LoadCommit(ctx context.Context, hash string) (*Commit, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM commits WHERE hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", hash, ErrCommitNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", hash, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetCommonAncestorCommit(ctx context.Context, hashA, hashB string) (string, error) {
	return commonAncestor(ctx, s.LoadCommit, hashA, hashB)
}

func (s *SQLiteStore) GetBranchHash(ctx context.Context, branch string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM branches WHERE name = ?`, branch).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read branch %s: %w", branch, err)
	}
	return hash, nil
}

func (s *SQLiteStore) SetBranchHash(ctx context.Context, branch, newHash, oldHash string) (BranchStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Forked, fmt.Errorf("failed to begin branch transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM branches WHERE name = ?`, branch).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Forked, fmt.Errorf("failed to read branch %s: %w", branch, err)
	}
	if current != oldHash {
		return Forked, nil
	}

	if newHash == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, branch)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO branches (name, hash) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET hash = excluded.hash`, branch, newHash)
	}
	if err != nil {
		return Forked, fmt.Errorf("failed to update branch %s: %w", branch, err)
	}
	if err := tx.Commit(); err != nil {
		return Forked, fmt.Errorf("failed to commit branch update: %w", err)
	}
	return Synced, nil
}

func (s *SQLiteStore) Branches(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, hash FROM branches`)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		result[name] = hash
	}
	return result, rows.Err()
}
