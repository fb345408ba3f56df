package persist

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// Postgres is a pgvector-backed Backend: ON CONFLICT upsert, embeddings
// stored in a pgvector column, one connection pool per process. Similarity
// is not computed in SQL; the memory package scores items in process.
type Postgres struct {
	db *sql.DB
}

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS memory_item (
	id             TEXT PRIMARY KEY,
	content        TEXT NOT NULL,
	type           TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	tags           TEXT[] NOT NULL DEFAULT '{}',
	relevance      DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	access_count   INTEGER NOT NULL DEFAULT 0,
	last_accessed  TIMESTAMPTZ,
	expires_at     TIMESTAMPTZ,
	embedding      VECTOR
);
`

// NewPostgres opens dsn, ensures the vector extension and memory_item
// table exist, and returns a ready Backend.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensure memory_item schema")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Save(ctx context.Context, r *Record) error {
	var vec any
	if len(r.Embedding) > 0 {
		vec = pgvector.NewVector(toFloat32(r.Embedding))
	}
	var lastAccessed, expiresAt any
	if !r.LastAccessed.IsZero() {
		lastAccessed = r.LastAccessed
	}
	if !r.ExpiresAt.IsZero() {
		expiresAt = r.ExpiresAt
	}

	stmt := `
		INSERT INTO memory_item (id, content, type, created_at, tags, relevance, access_count, last_accessed, expires_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			relevance = EXCLUDED.relevance,
			access_count = EXCLUDED.access_count,
			last_accessed = EXCLUDED.last_accessed,
			embedding = EXCLUDED.embedding
	`
	_, err := p.db.ExecContext(ctx, stmt, r.ID, r.Content, r.Type, r.CreatedAt,
		pqStringArray(r.Tags), r.Relevance, r.AccessCount, lastAccessed, expiresAt, vec)
	return errors.Wrap(err, "upsert memory item")
}

func (p *Postgres) LoadAll(ctx context.Context) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, content, type, created_at, tags, relevance, access_count, last_accessed, expires_at, embedding
		FROM memory_item
		WHERE expires_at IS NULL OR expires_at > now()
	`)
	if err != nil {
		return nil, errors.Wrap(err, "load memory items")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		var tags pqStringArray
		var lastAccessed, expiresAt sql.NullTime
		var vec pgvector.Vector
		if err := rows.Scan(&r.ID, &r.Content, &r.Type, &r.CreatedAt, &tags, &r.Relevance,
			&r.AccessCount, &lastAccessed, &expiresAt, &vec); err != nil {
			return nil, errors.Wrap(err, "scan memory item")
		}
		r.Tags = tags
		if lastAccessed.Valid {
			r.LastAccessed = lastAccessed.Time
		}
		if expiresAt.Valid {
			r.ExpiresAt = expiresAt.Time
		}
		r.Embedding = toFloat64(vec.Slice())
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM memory_item WHERE id = $1`, id)
	return errors.Wrap(err, "delete memory item")
}

func (p *Postgres) Close() error { return p.db.Close() }

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// pqStringArray implements sql.Scanner/driver.Valuer for a Postgres TEXT[]
// column without pulling in the full lib/pq array helper surface.
type pqStringArray []string

func (a pqStringArray) Value() (any, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

func (a *pqStringArray) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*a = nil
		return nil
	default:
		return errors.Errorf("unsupported scan type %T for text[]", src)
	}
	s = strings.TrimPrefix(strings.TrimSuffix(s, "}"), "{")
	if s == "" {
		*a = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.ReplaceAll(strings.TrimSuffix(strings.TrimPrefix(p, `"`), `"`), `\"`, `"`)
	}
	*a = out
	return nil
}
