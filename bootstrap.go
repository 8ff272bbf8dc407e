package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/Tutortoise/depth-capture-service/capture"
	"github.com/Tutortoise/depth-capture-service/catalog"
	"github.com/Tutortoise/depth-capture-service/command"
	"github.com/Tutortoise/depth-capture-service/config"
	"github.com/Tutortoise/depth-capture-service/detections"
	"github.com/Tutortoise/depth-capture-service/embeddings"
	"github.com/Tutortoise/depth-capture-service/frames"
	"github.com/Tutortoise/depth-capture-service/inference"
	"github.com/Tutortoise/depth-capture-service/pipeline"
	"github.com/Tutortoise/depth-capture-service/stream"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func buildDevice(cfg *config.Config) (frames.Device, error) {
	switch cfg.Device.Kind {
	case config.DeviceSynthetic:
		w, h := cfg.Stream.Width, cfg.Stream.Height
		return frames.NewSyntheticDevice(frames.SyntheticOptions{
			Width:  w,
			Height: h,
			FPS:    cfg.Stream.FPS,
			Target: image.Rect(w*3/8, h*3/8, w*5/8, h*5/8),
		}), nil
	case config.DeviceReplay:
		return frames.NewReplayDevice(cfg.Device.ReplayDir, cfg.Device.Loop), nil
	case config.DeviceBridge:
		args := append(append([]string(nil), cfg.Device.Bridge[1:]...),
			"--width", fmt.Sprint(cfg.Stream.Width),
			"--height", fmt.Sprint(cfg.Stream.Height),
			"--fps", fmt.Sprint(cfg.Stream.FPS),
		)
		return frames.NewBridgeDevice(cfg.Device.Bridge[0], args...), nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", cfg.Device.Kind)
	}
}

func sessionFactory(sc inference.SessionConfig) func() (inference.Runner, error) {
	return func() (inference.Runner, error) {
		s, err := inference.NewModelSession(sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// modelSet holds the inference side of the service. Pools are nil for
// models that are not configured.
type modelSet struct {
	detector      detections.Detector
	embedder      embeddings.Embedder
	detectorPool  *inference.Pool[inference.Runner]
	embeddingPool *inference.Pool[inference.Runner]
	shutdown      func() error
}

func (m *modelSet) Close() error {
	if m.detectorPool != nil {
		m.detectorPool.Destroy()
	}
	if m.embeddingPool != nil {
		m.embeddingPool.Destroy()
	}
	if m.shutdown != nil {
		return m.shutdown()
	}
	return nil
}

func loadModels(cfg *config.Config, logger *zap.Logger) (*modelSet, error) {
	m := &modelSet{detector: detections.NopDetector{}}
	if cfg.Detector.ModelPath == "" && cfg.Embedding.ModelPath == "" {
		logger.Warn("No models configured, captures will have no crop or embedding")
		return m, nil
	}

	libPath, err := inference.ResolveLibrary(cfg.Runtime.LibraryPath)
	if err != nil {
		return nil, err
	}
	shutdown, err := inference.InitRuntime(libPath)
	if err != nil {
		return nil, err
	}
	m.shutdown = shutdown
	logger.Info("ONNX runtime initialised",
		zap.String("library", libPath),
		zap.Strings("cpu_features", inference.CPUFeatures()),
	)

	if cfg.Detector.ModelPath != "" {
		dc := cfg.DetectorConfig()
		sc := dc.SessionConfig()
		sc.Threads = cfg.Runtime.Threads
		pool, err := inference.NewPool(sessionFactory(sc), cfg.Detector.PoolSize)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create detector session pool: %w", err)
		}
		m.detectorPool = pool
		m.detector = detections.NewOnnxDetector(dc, pool)
		logger.Info("Detector loaded", zap.String("model", dc.ModelPath), zap.Int("input", dc.InputSize))
	} else {
		logger.Warn("No detector model configured, detection disabled")
	}

	if cfg.Embedding.ModelPath != "" {
		ec := cfg.EmbeddingConfig()
		sc := ec.SessionConfig()
		sc.Threads = cfg.Runtime.Threads
		pool, err := inference.NewPool(sessionFactory(sc), 1)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create embedding session pool: %w", err)
		}
		m.embeddingPool = pool
		m.embedder = embeddings.NewOnnxEmbedder(ec, pool)
		logger.Info("Embedding model loaded", zap.String("model", ec.ModelPath), zap.Int("dim", ec.Dimension))
	} else {
		logger.Warn("No embedding model configured, embeddings disabled")
	}
	return m, nil
}

// runService wires every component and runs the frame loop. Setup
// failures are reported on out like loop failures.
func runService(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) (err error) {
	emitter := stream.NewEmitter(out)
	fatal := func(e error) error {
		logger.Error("Fatal error", zap.Error(e))
		if emitErr := emitter.Error(e); emitErr != nil {
			return multierr.Append(e, emitErr)
		}
		return e
	}

	loaded, err := loadModels(cfg, logger)
	if err != nil {
		return fatal(err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(loaded))

	var store catalog.Catalog
	var recorder capture.Recorder
	if cfg.Catalog.DSN != "" {
		store, err = catalog.Open(ctx, cfg.Catalog.DSN)
		if err != nil {
			return fatal(err)
		}
		defer multierr.AppendInvoke(&err, multierr.Close(store))
		recorder = store
	}

	dev, err := buildDevice(cfg)
	if err != nil {
		return fatal(err)
	}
	source := frames.NewSource(dev, logger)
	if err := source.Start(ctx); err != nil {
		return fatal(err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(source))

	requests := command.NewRequestState()
	listenerDone := command.NewListener(in, requests, logger).Start(ctx)

	pipe := capture.NewPipeline(cfg.CaptureOptions(), source.Geometry().Color, loaded.embedder, recorder, logger)
	runner := pipeline.NewRunner(
		source,
		detections.NewThrottler(loaded.detector, cfg.Detector.Interval),
		requests,
		pipe,
		emitter,
		pipeline.Options{PreviewScale: cfg.Preview.Scale, PreviewQuality: cfg.Preview.Quality},
		logger,
	)

	if cfg.Monitor.Addr != "" {
		state := &AppState{
			Stats:         runner.Stats(),
			Frames:        source,
			Requests:      requests,
			DetectorPool:  loaded.detectorPool,
			EmbeddingPool: loaded.embeddingPool,
			Catalog:       store,
			CPUFeatures:   inference.CPUFeatures(),
			StartedAt:     time.Now(),
		}
		monitorCtx, stopMonitor := context.WithCancel(ctx)
		defer stopMonitor()
		go func() {
			if err := serveMonitor(monitorCtx, cfg.Monitor.Addr, state, logger); err != nil {
				logger.Error("Monitoring server failed", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := <-listenerDone; err != nil {
			logger.Warn("Command listener stopped", zap.Error(err))
		}
	}()

	return runner.Run(ctx)
}
