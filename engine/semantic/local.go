package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/complimo/complimo/engine/domain"
)

// IndexFile is the database file name inside the index directory.
const IndexFile = "index.db"

// LocalStore is a directory-backed index persisted in SQLite. Similarity is
// computed in process with exact cosine over every vector in the collection.
type LocalStore struct {
	db *sql.DB
}

var _ Index = (*LocalStore)(nil)

// OpenLocal opens or creates the index under dir.
func OpenLocal(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("semantic: create index dir: %w", err)
	}
	path := filepath.Join(dir, IndexFile)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("semantic: open %s: %w", path, err)
	}
	s := &LocalStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("semantic: migrate: %w", err)
	}
	return s, nil
}

func (s *LocalStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS collections (
		name       TEXT PRIMARY KEY,
		dims       INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		collection  TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
		source_path TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		text        TEXT NOT NULL,
		metadata    TEXT NOT NULL,
		embedding   BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
	`)
	return err
}

// Close closes the database.
func (s *LocalStore) Close() error { return s.db.Close() }

func (s *LocalStore) dims(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, collection string) (int, error) {
	var d int
	err := q.QueryRowContext(ctx, `SELECT dims FROM collections WHERE name = ?`, collection).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("semantic: collection %q: %w", collection, domain.ErrIndexUnavailable)
	}
	return d, err
}

// Upsert writes records in one transaction, creating the collection on first use.
func (s *LocalStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("semantic: begin: %w", err)
	}
	defer tx.Rollback()

	first := len(records[0].Embedding)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections(name, dims, created_at) VALUES (?, ?, ?)`,
		collection, first, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", collection, err)
	}
	want, err := s.dims(ctx, tx, collection)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks(id, collection, source_path, seq, text, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("semantic: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Embedding) != want {
			return domain.NewValidationError("embedding", fmt.Sprintf("%d dims, collection has %d", len(r.Embedding), want), domain.ErrInvalidInput)
		}
		meta, err := json.Marshal(r.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("semantic: encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, collection, r.Chunk.SourcePath, r.Chunk.Seq, r.Chunk.Text, string(meta), encodeVector(r.Embedding)); err != nil {
			return fmt.Errorf("semantic: insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("semantic: commit %d records: %w", len(records), err)
	}
	return nil
}

// Search returns the k most similar chunks by cosine similarity. Ties keep
// insertion order.
func (s *LocalStore) Search(ctx context.Context, collection string, embedding []float32, k int) ([]SearchResult, error) {
	if _, err := s.dims(ctx, s.db, collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, seq, text, metadata, embedding FROM chunks WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	defer rows.Close()

	var hits []SearchResult
	for rows.Next() {
		var (
			id, meta string
			blob     []byte
			c        domain.Chunk
		)
		if err := rows.Scan(&id, &c.SourcePath, &c.Seq, &c.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("semantic: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("semantic: decode metadata of %s: %w", id, err)
		}
		hits = append(hits, SearchResult{ID: id, Score: float32(Cosine(embedding, decodeVector(blob))), Chunk: c})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// List returns up to limit chunks in insertion order. limit <= 0 means all.
func (s *LocalStore) List(ctx context.Context, collection string, limit int) ([]domain.Chunk, error) {
	if _, err := s.dims(ctx, s.db, collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_path, seq, text, metadata FROM chunks WHERE collection = ? ORDER BY rowid LIMIT ?`, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var (
			c    domain.Chunk
			meta string
		)
		if err := rows.Scan(&c.SourcePath, &c.Seq, &c.Text, &meta); err != nil {
			return nil, fmt.Errorf("semantic: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("semantic: decode metadata: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes the collection and all its chunks.
func (s *LocalStore) DeleteCollection(ctx context.Context, collection string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("semantic: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", collection, err)
	}
	return tx.Commit()
}
