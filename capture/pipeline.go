// Package capture writes the artifact bundle for one capture request.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tutortoise/depth-capture-service/command"
	"github.com/Tutortoise/depth-capture-service/depthviz"
	"github.com/Tutortoise/depth-capture-service/embeddings"
	"github.com/Tutortoise/depth-capture-service/models"
	"github.com/Tutortoise/depth-capture-service/pointcloud"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

var ErrIncompleteFrame = errors.New("frame pair is missing colour or depth")

type Stage string

const (
	StageSession    Stage = "session"
	StageColor      Stage = "color"
	StageDepth      Stage = "depth"
	StagePointCloud Stage = "pointcloud"
	StageCrop       Stage = "crop"
	StageEmbedding  Stage = "embedding"
)

// StageResult is the outcome of one capture step.
type StageResult struct {
	Stage    Stage
	Path     string
	Err      error
	Duration time.Duration
	Skipped  bool
}

// StageError aborts a strict capture.
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Bundle lists everything one capture produced.
type Bundle struct {
	ID             string
	Request        command.CaptureRequest
	Folder         string
	Dir            string
	ColorPath      string
	DepthMapPath   string
	PointCloudPath string
	CropPath       string
	EmbeddingPath  string
	Box            *models.BoundingBox
	Embedding      models.Embedding
	Stages         []StageResult
	CapturedAt     time.Time
}

// Failed names the stages that did not complete.
func (b *Bundle) Failed() []Stage {
	var failed []Stage
	for _, s := range b.Stages {
		if s.Err != nil {
			failed = append(failed, s.Stage)
		}
	}
	return failed
}

// Recorder stores a completed bundle somewhere durable.
type Recorder interface {
	Record(ctx context.Context, b *Bundle) error
}

type Options struct {
	Root        string
	ExpandScale float64
	DepthAlpha  float64
	JPEGQuality int
	Lenient     bool
}

func DefaultOptions() Options {
	return Options{
		Root:        "patients",
		ExpandScale: DefaultExpandScale,
		DepthAlpha:  depthviz.DefaultAlpha,
		JPEGQuality: 95,
	}
}

type Pipeline struct {
	opts       Options
	intrinsics models.Intrinsics
	embedder   embeddings.Embedder
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// NewPipeline builds a capture pipeline. embedder and recorder may be nil.
func NewPipeline(opts Options, intrinsics models.Intrinsics, embedder embeddings.Embedder, recorder Recorder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		opts:       opts,
		intrinsics: intrinsics,
		embedder:   embedder,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
		newID:      newCaptureID,
	}
}

// Execute writes the bundle for frame. bbox may be nil, in which case the
// crop and embedding are skipped. In strict mode the first failing stage
// aborts with a *StageError; in lenient mode only the session stage can.
func (p *Pipeline) Execute(ctx context.Context, frame *models.FramePair, bbox *models.BoundingBox, req command.CaptureRequest) (*Bundle, error) {
	if frame == nil || frame.Color == nil || frame.Depth == nil {
		return nil, ErrIncompleteFrame
	}

	capturedAt := p.now()
	bundle := &Bundle{
		ID:         p.newID(),
		Request:    req,
		Box:        bbox,
		CapturedAt: capturedAt,
	}
	ts := capturedAt.UnixMilli()

	dir, err := p.run(bundle, StageSession, func() (string, error) {
		return EnsureSession(p.opts.Root, req.SubjectID, req.Mode)
	})
	if err != nil {
		return nil, &StageError{Stage: StageSession, Cause: err}
	}
	bundle.Dir = dir
	bundle.Folder = filepath.ToSlash(dir)

	stages := []struct {
		stage Stage
		dst   *string
		fn    func() (string, error)
	}{
		{StageColor, &bundle.ColorPath, func() (string, error) {
			return p.writeJPEG(frame.Color, artifactPath(dir, "rgb", ts, "jpg"))
		}},
		{StageDepth, &bundle.DepthMapPath, func() (string, error) {
			path := artifactPath(dir, "depth", ts, "png")
			return path, imaging.Save(depthviz.Colorize(frame.Depth, p.opts.DepthAlpha), path)
		}},
		{StagePointCloud, &bundle.PointCloudPath, func() (string, error) {
			return p.writePointCloud(frame, artifactPath(dir, "model", ts, "ply"))
		}},
	}
	for _, s := range stages {
		path, err := p.run(bundle, s.stage, s.fn)
		if err != nil {
			if !p.opts.Lenient {
				return nil, &StageError{Stage: s.stage, Cause: err}
			}
			continue
		}
		*s.dst = path
	}

	if err := p.cropAndEmbed(ctx, bundle, frame, bbox, dir, ts); err != nil {
		return nil, err
	}

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, bundle); err != nil {
			p.logger.Warn("Failed to record capture", zap.String("id", bundle.ID), zap.Error(err))
		}
	}

	p.logger.Info("Capture complete",
		zap.String("id", bundle.ID),
		zap.String("folder", bundle.Folder),
		zap.Bool("detection", bbox != nil),
		zap.Int("failed_stages", len(bundle.Failed())),
	)
	return bundle, nil
}

func (p *Pipeline) cropAndEmbed(ctx context.Context, bundle *Bundle, frame *models.FramePair, bbox *models.BoundingBox, dir string, ts int64) error {
	if bbox == nil {
		bundle.Stages = append(bundle.Stages,
			StageResult{Stage: StageCrop, Skipped: true},
			StageResult{Stage: StageEmbedding, Skipped: true},
		)
		return nil
	}

	expanded := ExpandBox(*bbox, p.opts.ExpandScale, frame.Width(), frame.Height())
	crop := Crop(frame.Color, expanded)
	if crop == nil {
		p.logger.Debug("Expanded box is empty, skipping crop", zap.Any("box", expanded))
		bundle.Stages = append(bundle.Stages,
			StageResult{Stage: StageCrop, Skipped: true},
			StageResult{Stage: StageEmbedding, Skipped: true},
		)
		return nil
	}

	path, err := p.run(bundle, StageCrop, func() (string, error) {
		return p.writeJPEG(crop, artifactPath(dir, "crop", ts, "jpg"))
	})
	if err != nil {
		if !p.opts.Lenient {
			return &StageError{Stage: StageCrop, Cause: err}
		}
	} else {
		bundle.CropPath = path
	}

	if p.embedder == nil {
		bundle.Stages = append(bundle.Stages, StageResult{Stage: StageEmbedding, Skipped: true})
		return nil
	}

	path, err = p.run(bundle, StageEmbedding, func() (string, error) {
		emb, err := p.embedder.Embed(ctx, crop)
		if err != nil {
			return "", err
		}
		path := artifactPath(dir, "embedding", ts, "json")
		if err := writeJSON(path, emb); err != nil {
			return "", err
		}
		bundle.Embedding = emb
		return path, nil
	})
	if err != nil {
		if !p.opts.Lenient {
			return &StageError{Stage: StageEmbedding, Cause: err}
		}
		return nil
	}
	bundle.EmbeddingPath = path
	return nil
}

// run times fn and appends its StageResult to the bundle.
func (p *Pipeline) run(bundle *Bundle, stage Stage, fn func() (string, error)) (string, error) {
	start := time.Now()
	path, err := fn()
	result := StageResult{Stage: stage, Path: path, Err: err, Duration: time.Since(start)}
	if err != nil {
		result.Path = ""
		p.logger.Error("Capture stage failed", zap.String("stage", string(stage)), zap.Error(err))
	} else {
		p.logger.Debug("Capture stage done",
			zap.String("stage", string(stage)),
			zap.String("path", path),
			zap.Duration("took", result.Duration),
		)
	}
	bundle.Stages = append(bundle.Stages, result)
	return result.Path, err
}

func (p *Pipeline) writeJPEG(img image.Image, path string) (string, error) {
	return path, imaging.Save(img, path, imaging.JPEGQuality(p.opts.JPEGQuality))
}

func (p *Pipeline) writePointCloud(frame *models.FramePair, path string) (string, error) {
	cloud, err := pointcloud.FromFrame(frame, p.intrinsics)
	if err != nil {
		return "", err
	}
	if lo, hi, ok := cloud.Bounds(); ok {
		p.logger.Debug("Point cloud built",
			zap.Int("vertices", cloud.Len()),
			zap.Float64("min_z", lo.Z),
			zap.Float64("max_z", hi.Z),
		)
	}
	return path, cloud.WriteFile(path)
}

func artifactPath(dir, prefix string, ts int64, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.%s", prefix, ts, ext))
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// FailureSummary renders failed stage names for the controller.
func FailureSummary(b *Bundle) string {
	failed := b.Failed()
	if len(failed) == 0 {
		return ""
	}
	names := make([]string, len(failed))
	for i, s := range failed {
		names[i] = string(s)
	}
	return "capture incomplete, failed: " + strings.Join(names, ", ")
}
