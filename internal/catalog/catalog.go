// Package catalog records downloaded recordings in a SQLite database so a
// data set can be audited and re-verified after the fact.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/crypto/blake2b"

	"github.com/chaz8081/chirpnet/internal/xenocanto"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS recordings (
		path TEXT PRIMARY KEY,
		xc_id TEXT NOT NULL,
		species TEXT NOT NULL,
		quality TEXT NOT NULL,
		url TEXT NOT NULL,
		size INTEGER NOT NULL,
		blake2b TEXT NOT NULL,
		downloaded_at DATETIME NOT NULL
	);
	`

const upsertSQL = `
	INSERT INTO recordings (path, xc_id, species, quality, url, size, blake2b, downloaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		xc_id = excluded.xc_id,
		species = excluded.species,
		quality = excluded.quality,
		url = excluded.url,
		size = excluded.size,
		blake2b = excluded.blake2b,
		downloaded_at = excluded.downloaded_at
	`

// Entry is one catalogued file.
type Entry struct {
	Path         string
	ID           string
	Species      string
	Quality      string
	URL          string
	Size         int64
	Digest       string // hex BLAKE2b-256
	DownloadedAt time.Time
}

// Problem describes a catalogued file that no longer matches its record.
type Problem struct {
	Entry  Entry
	Reason string // "missing", "size" or "digest"
}

// Store is a SQLite-backed recording catalog. It implements xenocanto.Sink.
type Store struct {
	db *sql.DB
}

var _ xenocanto.Sink = (*Store)(nil)

// Open opens or creates the catalog at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("catalog: creating dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create table: %w", err)
	}
	slog.Debug("catalog opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Downloaded records a completed download, replacing any previous entry for path.
func (s *Store) Downloaded(ctx context.Context, rec xenocanto.Recording, path string, size int64, digest []byte) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		path, rec.ID, rec.Species(), rec.Q, rec.File, size, hex.EncodeToString(digest), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: record %s: %w", path, err)
	}
	return nil
}

// Count returns the number of catalogued files.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings").Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return n, nil
}

// Entries returns every catalogued file ordered by path.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, xc_id, species, quality, url, size, blake2b, downloaded_at FROM recordings ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.ID, &e.Species, &e.Quality, &e.URL, &e.Size, &e.Digest, &e.DownloadedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows: %w", err)
	}
	return out, nil
}

// Verify rehashes every catalogued file and returns those that are missing
// or whose size or digest changed since download.
func (s *Store) Verify(ctx context.Context) ([]Problem, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}

	var problems []Problem
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return problems, err
		}

		size, digest, err := hashFile(e.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			problems = append(problems, Problem{Entry: e, Reason: "missing"})
			continue
		case err != nil:
			return problems, fmt.Errorf("catalog: verify %s: %w", e.Path, err)
		}

		want, err := hex.DecodeString(e.Digest)
		if err != nil {
			return problems, fmt.Errorf("catalog: bad digest for %s: %w", e.Path, err)
		}
		if size != e.Size {
			problems = append(problems, Problem{Entry: e, Reason: "size"})
		} else if !bytes.Equal(digest, want) {
			problems = append(problems, Problem{Entry: e, Reason: "digest"})
		}
	}
	slog.Debug("catalog verified", "files", len(entries), "problems", len(problems))
	return problems, nil
}

func hashFile(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, nil, err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, err
	}
	return n, h.Sum(nil), nil
}
