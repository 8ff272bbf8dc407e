// Package pipeline runs the frame loop: acquire, detect, capture when
// armed, then stream a preview.
package pipeline

import (
	"context"
	"time"

	"github.com/Tutortoise/depth-capture-service/capture"
	"github.com/Tutortoise/depth-capture-service/command"
	"github.com/Tutortoise/depth-capture-service/detections"
	"github.com/Tutortoise/depth-capture-service/models"
	"github.com/Tutortoise/depth-capture-service/stream"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CaptureStartedMessage is sent before any artifact is written.
const CaptureStartedMessage = "Processing 3D data..."

type FrameSource interface {
	NextFramePair(ctx context.Context) (*models.FramePair, error)
	DistanceAt(x, y int) float64
	Close() error
}

type Capturer interface {
	Execute(ctx context.Context, frame *models.FramePair, bbox *models.BoundingBox, req command.CaptureRequest) (*capture.Bundle, error)
}

type Options struct {
	PreviewScale   float64
	PreviewQuality int
}

type Runner struct {
	source    FrameSource
	throttler *detections.Throttler
	requests  *command.RequestState
	capturer  Capturer
	emitter   *stream.Emitter
	logger    *zap.Logger
	opts      Options

	stats         Stats
	lastEmbedding models.Embedding
}

func NewRunner(source FrameSource, throttler *detections.Throttler, requests *command.RequestState, capturer Capturer, emitter *stream.Emitter, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PreviewScale <= 0 {
		opts.PreviewScale = stream.DefaultPreviewScale
	}
	if opts.PreviewQuality <= 0 {
		opts.PreviewQuality = stream.DefaultPreviewQuality
	}
	return &Runner{
		source:    source,
		throttler: throttler,
		requests:  requests,
		capturer:  capturer,
		emitter:   emitter,
		logger:    logger,
		opts:      opts,
	}
}

func (r *Runner) Stats() *Stats { return &r.stats }

// Run announces readiness and loops until ctx is cancelled or a fatal
// error occurs. A fatal error is reported on the stream once and returned.
// Cancellation closes the source so a blocked wait returns.
func (r *Runner) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if err := r.source.Close(); err != nil {
			r.logger.Warn("Failed to stop device", zap.Error(err))
		}
	})
	defer stop()

	r.stats.Running.Store(true)
	defer r.stats.Running.Store(false)

	if err := r.emitter.Ready(); err != nil {
		return err
	}

	for {
		err := r.iterate(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			r.logger.Info("Frame loop stopped", zap.Uint64("frames", r.stats.Frames.Load()))
			return nil
		}
		r.logger.Error("Frame loop failed", zap.Error(err))
		if emitErr := r.emitter.Error(err); emitErr != nil {
			return multierr.Append(err, emitErr)
		}
		return err
	}
}

func (r *Runner) iterate(ctx context.Context) error {
	var timings models.ProcessingTimings
	loopStart := time.Now()

	frame, err := r.source.NextFramePair(ctx)
	if err != nil {
		return err
	}
	timings.Frame = frame.Index
	timings.Acquire = time.Since(loopStart)
	r.stats.Frames.Inc()
	r.stats.LastFrameNanos.Store(time.Now().UnixNano())

	detectStart := time.Now()
	runsBefore := r.throttler.Runs()
	bbox, err := r.throttler.MaybeDetect(ctx, frame.Color, frame.Index)
	if err != nil {
		return err
	}
	if r.throttler.Runs() != runsBefore {
		r.stats.DetectorRuns.Inc()
	}
	timings.Detect = time.Since(detectStart)

	if req, ok := r.requests.Take(); ok {
		captureStart := time.Now()
		if err := r.capture(ctx, frame, bbox, req); err != nil {
			return err
		}
		timings.Capture = time.Since(captureStart)
	}

	emitStart := time.Now()
	distance := r.source.DistanceAt(frame.Width()/2, frame.Height()/2)
	preview, err := stream.BuildPreview(frame, distance, bbox, r.lastEmbedding, r.opts.PreviewScale, r.opts.PreviewQuality)
	if err != nil {
		return err
	}
	if err := r.emitter.Preview(preview); err != nil {
		return err
	}
	r.stats.Previews.Inc()
	timings.Emit = time.Since(emitStart)

	timings.Total = time.Since(loopStart)
	r.stats.LastLoopNanos.Store(int64(timings.Total))
	r.logTimings(&timings)
	return nil
}

// capture runs the pipeline for one request. It is detached from ctx
// cancellation so a started bundle is always completed.
func (r *Runner) capture(ctx context.Context, frame *models.FramePair, bbox *models.BoundingBox, req command.CaptureRequest) error {
	r.logger.Info("Capture requested",
		zap.String("subject", req.SubjectID),
		zap.String("mode", req.Mode),
		zap.Uint64("seq", req.Seq),
		zap.Uint64("frame", frame.Index),
	)
	if err := r.emitter.Info(CaptureStartedMessage); err != nil {
		return err
	}

	bundle, err := r.capturer.Execute(context.WithoutCancel(ctx), frame, bbox, req)
	if err != nil {
		return err
	}
	r.stats.Captures.Inc()
	if bundle.Embedding != nil {
		r.lastEmbedding = bundle.Embedding
	}

	if summary := capture.FailureSummary(bundle); summary != "" {
		r.stats.DegradedCapture.Inc()
		if err := r.emitter.Info(summary); err != nil {
			return err
		}
	}
	return r.emitter.Saved(bundle.Folder, bundle.PointCloudPath, bundle.Embedding)
}

func (r *Runner) logTimings(t *models.ProcessingTimings) {
	if ce := r.logger.Check(zap.DebugLevel, "Frame processed"); ce != nil {
		ce.Write(
			zap.Uint64("frame", t.Frame),
			zap.Duration("acquire", t.Acquire),
			zap.Duration("detect", t.Detect),
			zap.Duration("capture", t.Capture),
			zap.Duration("emit", t.Emit),
			zap.Duration("total", t.Total),
		)
	}
}
