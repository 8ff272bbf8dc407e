package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tutortoise/depth-capture-service/capture"
	"github.com/Tutortoise/depth-capture-service/command"
	"github.com/Tutortoise/depth-capture-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captures.db")
	c, err := Open(context.Background(), "sqlite://"+path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c.(*SQLite)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	assert.Error(t, err)

	_, err = Open(context.Background(), "sqlite://")
	assert.Error(t, err)
}

func TestSQLiteRecordAndRecent(t *testing.T) {
	c := openTestSQLite(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	withEmbedding := &capture.Bundle{
		ID:             "a",
		Request:        command.CaptureRequest{SubjectID: "123", Mode: "pre"},
		Folder:         "patients/123_pre",
		PointCloudPath: "patients/123_pre/model_1.ply",
		EmbeddingPath:  "patients/123_pre/embedding_1.json",
		Embedding:      models.Embedding{0.6, 0.8},
		CapturedAt:     base,
	}
	degraded := &capture.Bundle{
		ID:             "b",
		Request:        command.CaptureRequest{SubjectID: "123", Mode: "post"},
		Folder:         "patients/123_post",
		PointCloudPath: "patients/123_post/model_2.ply",
		Stages: []capture.StageResult{
			{Stage: capture.StageDepth, Err: errors.New("disk full")},
		},
		CapturedAt: base.Add(time.Second),
	}
	require.NoError(t, c.Record(ctx, withEmbedding))
	require.NoError(t, c.Record(ctx, degraded))

	entries, err := c.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "b", entries[0].ID)
	assert.Nil(t, entries[0].Embedding)
	assert.Equal(t, []string{"depth"}, entries[0].FailedStages)

	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, "pre", entries[1].Mode)
	assert.Equal(t, models.Embedding{0.6, 0.8}, entries[1].Embedding)
	assert.Nil(t, entries[1].FailedStages)
	assert.True(t, base.Equal(entries[1].CapturedAt))

	entries, err = c.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLiteDuplicateID(t *testing.T) {
	c := openTestSQLite(t)
	b := &capture.Bundle{ID: "dup", CapturedAt: time.Now()}
	require.NoError(t, c.Record(context.Background(), b))
	assert.Error(t, c.Record(context.Background(), b))
}
