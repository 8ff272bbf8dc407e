package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CAPTURE_"

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"STREAM_WIDTH", intVar(func(c *Config) *int { return &c.Stream.Width })},
	{"STREAM_HEIGHT", intVar(func(c *Config) *int { return &c.Stream.Height })},
	{"STREAM_FPS", intVar(func(c *Config) *int { return &c.Stream.FPS })},
	{"DEVICE", stringVar(func(c *Config) *string { return &c.Device.Kind })},
	{"REPLAY_DIR", stringVar(func(c *Config) *string { return &c.Device.ReplayDir })},
	{"REPLAY_LOOP", boolVar(func(c *Config) *bool { return &c.Device.Loop })},
	{"BRIDGE", func(c *Config, v string) error {
		c.Device.Bridge = strings.Fields(v)
		return nil
	}},
	{"DETECTOR_MODEL", stringVar(func(c *Config) *string { return &c.Detector.ModelPath })},
	{"DETECTOR_INPUT_SIZE", intVar(func(c *Config) *int { return &c.Detector.InputSize })},
	{"DETECTOR_CLASSES", intVar(func(c *Config) *int { return &c.Detector.NumClasses })},
	{"DETECTOR_TARGET_CLASS", intVar(func(c *Config) *int { return &c.Detector.TargetClass })},
	{"DETECTOR_CONF", floatVar(func(c *Config) *float64 { return &c.Detector.ConfThreshold })},
	{"DETECTOR_IOU", floatVar(func(c *Config) *float64 { return &c.Detector.IoUThreshold })},
	{"DETECT_INTERVAL", intVar(func(c *Config) *int { return &c.Detector.Interval })},
	{"POOL_SIZE", intVar(func(c *Config) *int { return &c.Detector.PoolSize })},
	{"EMBEDDING_MODEL", stringVar(func(c *Config) *string { return &c.Embedding.ModelPath })},
	{"EMBEDDING_DIM", intVar(func(c *Config) *int { return &c.Embedding.Dimension })},
	{"EXPAND_SCALE", floatVar(func(c *Config) *float64 { return &c.Capture.ExpandScale })},
	{"DEPTH_ALPHA", floatVar(func(c *Config) *float64 { return &c.Capture.DepthAlpha })},
	{"LENIENT", boolVar(func(c *Config) *bool { return &c.Capture.Lenient })},
	{"OUTPUT_ROOT", stringVar(func(c *Config) *string { return &c.Output.Root })},
	{"MONITOR_ADDR", stringVar(func(c *Config) *string { return &c.Monitor.Addr })},
	{"CATALOG", stringVar(func(c *Config) *string { return &c.Catalog.DSN })},
	{"THREADS", intVar(func(c *Config) *int { return &c.Runtime.Threads })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.LogLevel })},
}

// ApplyEnv overrides fields from CAPTURE_* variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
	}
	return nil
}
