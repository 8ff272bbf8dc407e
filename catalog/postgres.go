package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tutortoise/depth-capture-service/capture"

	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS captures (
	id               UUID PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	mode             TEXT NOT NULL,
	folder           TEXT NOT NULL,
	point_cloud_path TEXT NOT NULL,
	embedding_path   TEXT NOT NULL DEFAULT '',
	embedding        REAL[],
	failed_stages    TEXT[] NOT NULL DEFAULT '{}',
	captured_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_subject ON captures (subject_id, mode);
`

// Postgres keeps a single connection; pgx.Conn is not safe for concurrent
// use so every call holds mu.
type Postgres struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres catalog: %w", err)
	}
	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &Postgres{conn: conn}, nil
}

func (p *Postgres) Record(ctx context.Context, b *capture.Bundle) error {
	e := entryFromBundle(b)
	failed := e.FailedStages
	if failed == nil {
		failed = []string{}
	}

	var emb []float32
	if e.Embedding != nil {
		emb = []float32(e.Embedding)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.conn.Exec(ctx, `
		INSERT INTO captures (id, subject_id, mode, folder, point_cloud_path, embedding_path, embedding, failed_stages, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.SubjectID, e.Mode, e.Folder, e.PointCloudPath, e.EmbeddingPath, emb, failed, e.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert capture %s: %w", e.ID, err)
	}
	return nil
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows, err := p.conn.Query(ctx, `
		SELECT id::text, subject_id, mode, folder, point_cloud_path, embedding_path, embedding, failed_stages, captured_at
		FROM captures ORDER BY captured_at DESC, id LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e   Entry
			emb []float32
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Mode, &e.Folder, &e.PointCloudPath, &e.EmbeddingPath, &emb, &e.FailedStages, &e.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		if emb != nil {
			e.Embedding = emb
		}
		if len(e.FailedStages) == 0 {
			e.FailedStages = nil
		}
		e.CapturedAt = e.CapturedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close(context.Background())
}
