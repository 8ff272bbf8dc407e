package main

import (
	"fmt"
	"os"

	"github.com/Tutortoise/depth-capture-service/config"
	"github.com/Tutortoise/depth-capture-service/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is the application version.
const Version = "0.1.0"

type cliFlags struct {
	configPath     string
	device         string
	replayDir      string
	outputRoot     string
	detectInterval int
	lenient        bool
	monitorAddr    string
	catalogDSN     string
	logLevel       string
	runtimeLib     string
	detectorModel  string
	embeddingModel string
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "depthcapture",
		Short:         "Depth + colour capture service streaming previews over stdout",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	run := &cobra.Command{
		Use:   "run",
		Short: "Stream previews and capture artifact bundles on request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), flags)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return runService(cmd.Context(), cfg, os.Stdin, os.Stdout, logger)
		},
	}
	bindFlags(run.Flags(), flags)

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}

	root.AddCommand(run, version)
	root.RunE = run.RunE
	bindFlags(root.Flags(), flags)
	return root
}

func bindFlags(fs *pflag.FlagSet, f *cliFlags) {
	fs.StringVar(&f.configPath, "config", "", "JSON config file")
	fs.StringVar(&f.device, "device", "", "frame device: synthetic, replay or bridge")
	fs.StringVar(&f.replayDir, "replay-dir", "", "directory of recorded colour/depth pairs")
	fs.StringVar(&f.outputRoot, "output-root", "", "root directory for capture sessions")
	fs.IntVar(&f.detectInterval, "detect-interval", 0, "run the detector every N frames")
	fs.BoolVar(&f.lenient, "lenient", false, "keep capturing when a single artifact fails")
	fs.StringVar(&f.monitorAddr, "monitor-addr", "", "serve /metrics and /healthz on this address")
	fs.StringVar(&f.catalogDSN, "catalog", "", "capture catalog: sqlite:///path.db or postgres://...")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.runtimeLib, "onnxruntime-lib", "", "path to the onnxruntime shared library")
	fs.StringVar(&f.detectorModel, "detector-model", "", "YOLO detector ONNX model, empty disables detection")
	fs.StringVar(&f.embeddingModel, "embedding-model", "", "embedding ONNX model, empty disables embeddings")
}

// loadConfig layers defaults, the config file, CAPTURE_* variables and
// explicitly set flags, in that order.
func loadConfig(fs *pflag.FlagSet, f *cliFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	if fs.Changed("device") {
		cfg.Device.Kind = f.device
	}
	if fs.Changed("replay-dir") {
		cfg.Device.ReplayDir = f.replayDir
	}
	if fs.Changed("output-root") {
		cfg.Output.Root = f.outputRoot
	}
	if fs.Changed("detect-interval") {
		cfg.Detector.Interval = f.detectInterval
	}
	if fs.Changed("lenient") {
		cfg.Capture.Lenient = f.lenient
	}
	if fs.Changed("monitor-addr") {
		cfg.Monitor.Addr = f.monitorAddr
	}
	if fs.Changed("catalog") {
		cfg.Catalog.DSN = f.catalogDSN
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("onnxruntime-lib") {
		cfg.Runtime.LibraryPath = f.runtimeLib
	}
	if fs.Changed("detector-model") {
		cfg.Detector.ModelPath = f.detectorModel
	}
	if fs.Changed("embedding-model") {
		cfg.Embedding.ModelPath = f.embeddingModel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
