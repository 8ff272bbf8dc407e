// Package config loads service settings from defaults, an optional JSON
// file and CAPTURE_* environment variables.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Tutortoise/depth-capture-service/capture"
	"github.com/Tutortoise/depth-capture-service/depthviz"
	"github.com/Tutortoise/depth-capture-service/detections"
	"github.com/Tutortoise/depth-capture-service/embeddings"
	"github.com/Tutortoise/depth-capture-service/stream"
)

const maxFileSize = 1 * 1024 * 1024

// Device kinds.
const (
	DeviceSynthetic = "synthetic"
	DeviceReplay    = "replay"
	DeviceBridge    = "bridge"
)

type Config struct {
	Stream    StreamConfig    `json:"stream"`
	Device    DeviceConfig    `json:"device"`
	Detector  DetectorConfig  `json:"detector"`
	Embedding EmbeddingConfig `json:"embedding"`
	Capture   CaptureConfig   `json:"capture"`
	Output    OutputConfig    `json:"output"`
	Preview   PreviewConfig   `json:"preview"`
	Monitor   MonitorConfig   `json:"monitor"`
	Catalog   CatalogConfig   `json:"catalog"`
	Runtime   RuntimeConfig   `json:"runtime"`
	LogLevel  string          `json:"log_level"`
}

type StreamConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`
}

type DeviceConfig struct {
	Kind      string   `json:"kind"`
	ReplayDir string   `json:"replay_dir"`
	Loop      bool     `json:"loop"`
	Bridge    []string `json:"bridge"`
}

type DetectorConfig struct {
	ModelPath     string  `json:"model_path"`
	InputSize     int     `json:"input_size"`
	NumClasses    int     `json:"num_classes"`
	TargetClass   int     `json:"target_class"`
	ConfThreshold float64 `json:"conf_threshold"`
	IoUThreshold  float64 `json:"iou_threshold"`
	Interval      int     `json:"interval"`
	PoolSize      int     `json:"pool_size"`
}

type EmbeddingConfig struct {
	ModelPath  string `json:"model_path"`
	InputSize  int    `json:"input_size"`
	Dimension  int    `json:"dimension"`
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
}

type CaptureConfig struct {
	ExpandScale float64 `json:"expand_scale"`
	DepthAlpha  float64 `json:"depth_alpha"`
	JPEGQuality int     `json:"jpeg_quality"`
	Lenient     bool    `json:"lenient"`
}

type OutputConfig struct {
	Root string `json:"root"`
}

type PreviewConfig struct {
	Scale   float64 `json:"scale"`
	Quality int     `json:"quality"`
}

type MonitorConfig struct {
	Addr string `json:"addr"`
}

type CatalogConfig struct {
	DSN string `json:"dsn"`
}

type RuntimeConfig struct {
	LibraryPath string `json:"library_path"`
	Threads     int    `json:"threads"`
}

func Default() *Config {
	det := detections.DefaultConfig()
	emb := embeddings.DefaultConfig()
	opts := capture.DefaultOptions()
	return &Config{
		Stream: StreamConfig{Width: 640, Height: 480, FPS: 30},
		Device: DeviceConfig{Kind: DeviceSynthetic, Loop: true},
		Detector: DetectorConfig{
			ModelPath:     "models/detector.onnx",
			InputSize:     det.InputSize,
			NumClasses:    det.NumClasses,
			TargetClass:   det.TargetClass,
			ConfThreshold: det.ConfThreshold,
			IoUThreshold:  det.IoUThreshold,
			Interval:      detections.DefaultInterval,
			PoolSize:      1,
		},
		Embedding: EmbeddingConfig{
			ModelPath:  "models/embedding.onnx",
			InputSize:  emb.InputSize,
			Dimension:  emb.Dimension,
			InputName:  emb.InputName,
			OutputName: emb.OutputName,
		},
		Capture: CaptureConfig{
			ExpandScale: opts.ExpandScale,
			DepthAlpha:  depthviz.DefaultAlpha,
			JPEGQuality: opts.JPEGQuality,
		},
		Output:   OutputConfig{Root: opts.Root},
		Preview:  PreviewConfig{Scale: stream.DefaultPreviewScale, Quality: stream.DefaultPreviewQuality},
		LogLevel: "info",
	}
}

// Load applies the JSON file at path on top of the defaults. Fields the
// file omits keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Stream.Width <= 0 || c.Stream.Height <= 0 {
		return fmt.Errorf("stream size must be positive, got %dx%d", c.Stream.Width, c.Stream.Height)
	}
	if c.Stream.FPS <= 0 {
		return fmt.Errorf("stream fps must be positive, got %d", c.Stream.FPS)
	}

	switch c.Device.Kind {
	case DeviceSynthetic:
	case DeviceReplay:
		if c.Device.ReplayDir == "" {
			return fmt.Errorf("replay device needs device.replay_dir")
		}
	case DeviceBridge:
		if len(c.Device.Bridge) == 0 {
			return fmt.Errorf("bridge device needs device.bridge command")
		}
	default:
		return fmt.Errorf("unknown device kind %q", c.Device.Kind)
	}

	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	if c.Detector.Interval < 1 {
		return fmt.Errorf("detector interval must be at least 1, got %d", c.Detector.Interval)
	}
	if c.Detector.PoolSize < 1 {
		return fmt.Errorf("detector pool size must be at least 1, got %d", c.Detector.PoolSize)
	}
	if err := c.EmbeddingConfig().Validate(); err != nil {
		return err
	}

	if c.Capture.ExpandScale <= 0 {
		return fmt.Errorf("capture expand_scale must be positive, got %v", c.Capture.ExpandScale)
	}
	if c.Capture.DepthAlpha <= 0 {
		return fmt.Errorf("capture depth_alpha must be positive, got %v", c.Capture.DepthAlpha)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture jpeg_quality must be in [1,100], got %d", c.Capture.JPEGQuality)
	}
	if c.Preview.Scale <= 0 || c.Preview.Scale > 1 {
		return fmt.Errorf("preview scale must be in (0,1], got %v", c.Preview.Scale)
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview quality must be in [1,100], got %d", c.Preview.Quality)
	}
	if c.Output.Root == "" {
		return fmt.Errorf("output root must not be empty")
	}
	return nil
}

func (c *Config) DetectorConfig() detections.Config {
	return detections.Config{
		ModelPath:     c.Detector.ModelPath,
		InputSize:     c.Detector.InputSize,
		NumClasses:    c.Detector.NumClasses,
		TargetClass:   c.Detector.TargetClass,
		ConfThreshold: c.Detector.ConfThreshold,
		IoUThreshold:  c.Detector.IoUThreshold,
	}
}

func (c *Config) EmbeddingConfig() embeddings.Config {
	return embeddings.Config{
		ModelPath:  c.Embedding.ModelPath,
		InputSize:  c.Embedding.InputSize,
		Dimension:  c.Embedding.Dimension,
		InputName:  c.Embedding.InputName,
		OutputName: c.Embedding.OutputName,
	}
}

func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		Root:        c.Output.Root,
		ExpandScale: c.Capture.ExpandScale,
		DepthAlpha:  c.Capture.DepthAlpha,
		JPEGQuality: c.Capture.JPEGQuality,
		Lenient:     c.Capture.Lenient,
	}
}
