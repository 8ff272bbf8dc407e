package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tutortoise/depth-capture-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) events() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		var m map[string]any
		if json.Unmarshal(sc.Bytes(), &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"detector":{"interval":4},"output":{"root":"from-file"}}`), 0o644))
	t.Setenv("CAPTURE_OUTPUT_ROOT", "from-env")
	t.Setenv("CAPTURE_DETECT_INTERVAL", "6")

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--detect-interval", "8", "--lenient"}))

	flags := &cliFlags{}
	fs := cmd.Flags()
	flags.configPath, _ = fs.GetString("config")
	flags.detectInterval, _ = fs.GetInt("detect-interval")
	flags.lenient, _ = fs.GetBool("lenient")

	cfg, err := loadConfig(fs, flags)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Detector.Interval)
	assert.Equal(t, "from-env", cfg.Output.Root)
	assert.True(t, cfg.Capture.Lenient)
}

func TestLoadConfigInvalid(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--device", "usb"}))
	_, err := loadConfig(cmd.Flags(), &cliFlags{device: "usb"})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestRunServiceWithoutModels(t *testing.T) {
	root := filepath.Join(t.TempDir(), "patients")
	cfg := config.Default()
	cfg.Stream = config.StreamConfig{Width: 32, Height: 24, FPS: 100}
	cfg.Detector.ModelPath = ""
	cfg.Embedding.ModelPath = ""
	cfg.Output.Root = root
	cfg.Catalog.DSN = "sqlite://" + filepath.Join(t.TempDir(), "captures.db")
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := strings.NewReader(`not json` + "\n" + `{"cmd":"save","hn":42,"mode":"pre"}` + "\n")
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- runService(ctx, cfg, in, out, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		for _, e := range out.events() {
			if e["event"] == "saved" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	events := out.events()
	require.NotEmpty(t, events)
	assert.Equal(t, "ready", events[0]["status"])
	for _, e := range events {
		if e["event"] == "saved" {
			assert.Equal(t, filepath.ToSlash(filepath.Join(root, "42_pre")), e["folder"])
			assert.Nil(t, e["embedding"])
		}
		assert.NotContains(t, e, "error")
	}

	entries, err := os.ReadDir(filepath.Join(root, "42_pre"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRunServiceReportsSetupFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Detector.ModelPath = ""
	cfg.Embedding.ModelPath = ""
	cfg.Device.Kind = config.DeviceReplay
	cfg.Device.ReplayDir = filepath.Join(t.TempDir(), "missing")

	var out bytes.Buffer
	err := runService(context.Background(), cfg, strings.NewReader(""), &out, zaptest.NewLogger(t))
	require.Error(t, err)

	var msg map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &msg))
	assert.NotEmpty(t, msg["error"])
}
