package persist

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLite is a pure-Go, single-node Backend for deployments without a
// Postgres instance. Embeddings are stored as a BLOB, mirroring the
// teacher's store/db/sqlite/episodic_memory_embedding.go float32Array<->BLOB
// convention; similarity scoring stays in the memory package's own
// application-layer cosine (similarity.go) rather than duplicating the
// teacher's sqlite-side cosineSimilarity helper, since LoadAll already
// round-trips every embedding back into the in-process Store.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_item (
	id            TEXT PRIMARY KEY,
	content       TEXT NOT NULL,
	type          TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	tags          TEXT NOT NULL DEFAULT '',
	relevance     REAL NOT NULL DEFAULT 1.0,
	access_count  INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER,
	expires_at    INTEGER,
	embedding     BLOB
);
`

// NewSQLite opens path (e.g. "file:aurora.db?_pragma=journal_mode(WAL)")
// and ensures the memory_item table exists.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensure memory_item schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, r *Record) error {
	blob, err := float64ArrayToBLOB(r.Embedding)
	if err != nil {
		return errors.Wrap(err, "encode embedding")
	}
	stmt := `
		INSERT INTO memory_item (id, content, type, created_at, tags, relevance, access_count, last_accessed, expires_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			relevance = excluded.relevance,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			embedding = excluded.embedding
	`
	_, err = s.db.ExecContext(ctx, stmt, r.ID, r.Content, r.Type, r.CreatedAt.Unix(),
		strings.Join(r.Tags, "\x1f"), r.Relevance, r.AccessCount,
		nullUnix(r.LastAccessed), nullUnix(r.ExpiresAt), blob)
	return errors.Wrap(err, "upsert memory item")
}

func (s *SQLite) LoadAll(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, type, created_at, tags, relevance, access_count, last_accessed, expires_at, embedding
		FROM memory_item
		WHERE expires_at IS NULL OR expires_at > strftime('%s','now')
	`)
	if err != nil {
		return nil, errors.Wrap(err, "load memory items")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		var createdAt int64
		var tags string
		var lastAccessed, expiresAt sql.NullInt64
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Content, &r.Type, &createdAt, &tags, &r.Relevance,
			&r.AccessCount, &lastAccessed, &expiresAt, &blob); err != nil {
			return nil, errors.Wrap(err, "scan memory item")
		}
		r.CreatedAt = unixTime(createdAt)
		if tags != "" {
			r.Tags = strings.Split(tags, "\x1f")
		}
		if lastAccessed.Valid {
			r.LastAccessed = unixTime(lastAccessed.Int64)
		}
		if expiresAt.Valid {
			r.ExpiresAt = unixTime(expiresAt.Int64)
		}
		r.Embedding, err = blobToFloat64Array(blob)
		if err != nil {
			return nil, errors.Wrap(err, "decode embedding")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_item WHERE id = ?`, id)
	return errors.Wrap(err, "delete memory item")
}

func (s *SQLite) Close() error { return s.db.Close() }

func float64ArrayToBLOB(vec []float64) ([]byte, error) {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf, nil
}

func nullUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func blobToFloat64Array(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, errors.Errorf("embedding blob length %d not a multiple of 8", len(blob))
	}
	n := len(blob) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return out, nil
}
