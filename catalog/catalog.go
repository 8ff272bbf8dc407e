// Package catalog keeps a durable ledger of completed captures.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tutortoise/depth-capture-service/capture"
	"github.com/Tutortoise/depth-capture-service/models"
)

// Entry is one recorded capture.
type Entry struct {
	ID             string           `json:"id"`
	SubjectID      string           `json:"subject_id"`
	Mode           string           `json:"mode"`
	Folder         string           `json:"folder"`
	PointCloudPath string           `json:"point_cloud_path"`
	EmbeddingPath  string           `json:"embedding_path,omitempty"`
	Embedding      models.Embedding `json:"embedding"`
	FailedStages   []string         `json:"failed_stages,omitempty"`
	CapturedAt     time.Time        `json:"captured_at"`
}

type Catalog interface {
	capture.Recorder
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open picks a backend from the DSN scheme: sqlite://<path> or
// postgres://... (postgresql:// is accepted too).
func Open(ctx context.Context, dsn string) (Catalog, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported catalog dsn %q", dsn)
	}
}

func entryFromBundle(b *capture.Bundle) Entry {
	e := Entry{
		ID:             b.ID,
		SubjectID:      b.Request.SubjectID,
		Mode:           b.Request.Mode,
		Folder:         b.Folder,
		PointCloudPath: b.PointCloudPath,
		EmbeddingPath:  b.EmbeddingPath,
		Embedding:      b.Embedding,
		CapturedAt:     b.CapturedAt.UTC(),
	}
	for _, s := range b.Failed() {
		e.FailedStages = append(e.FailedStages, string(s))
	}
	return e
}

const defaultRecentLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultRecentLimit
	}
	return limit
}
