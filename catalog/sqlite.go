package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Tutortoise/depth-capture-service/capture"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS captures (
	id               TEXT PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	mode             TEXT NOT NULL,
	folder           TEXT NOT NULL,
	point_cloud_path TEXT NOT NULL,
	embedding_path   TEXT NOT NULL DEFAULT '',
	embedding        TEXT,
	failed_stages    TEXT NOT NULL DEFAULT '',
	captured_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_subject ON captures (subject_id, mode);
`

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite catalog path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(ctx context.Context, b *capture.Bundle) error {
	e := entryFromBundle(b)

	var emb sql.NullString
	if e.Embedding != nil {
		data, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		emb = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (id, subject_id, mode, folder, point_cloud_path, embedding_path, embedding, failed_stages, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SubjectID, e.Mode, e.Folder, e.PointCloudPath, e.EmbeddingPath, emb,
		strings.Join(e.FailedStages, ","), e.CapturedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert capture %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, mode, folder, point_cloud_path, embedding_path, embedding, failed_stages, captured_at
		FROM captures ORDER BY captured_at DESC, id LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			emb    sql.NullString
			failed string
			ms     int64
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Mode, &e.Folder, &e.PointCloudPath, &e.EmbeddingPath, &emb, &failed, &ms); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		if emb.Valid {
			if err := json.Unmarshal([]byte(emb.String), &e.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding of %s: %w", e.ID, err)
			}
		}
		if failed != "" {
			e.FailedStages = strings.Split(failed, ",")
		}
		e.CapturedAt = time.UnixMilli(ms).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
