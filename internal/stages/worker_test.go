package stages

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanukai/framepipe/internal/config"
)

// captureHandler collects log record messages for assertions.
type captureHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, r.Message)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) captured() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

func TestRunWorkerRequiresCommand(t *testing.T) {
	run := &config.Run{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runWorker(context.Background(), run, logger, "extract")
	assert.ErrorContains(t, err, "worker_cmd")
}

func TestRunWorkerRunsCommand(t *testing.T) {
	run := &config.Run{WorkerCmd: "true"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.NoError(t, runWorker(context.Background(), run, logger, "extract", "--src", "/tmp"))
}

func TestRunWorkerReportsExitFailure(t *testing.T) {
	run := &config.Run{WorkerCmd: "false"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runWorker(context.Background(), run, logger, "crop")
	assert.ErrorContains(t, err, "worker crop")
}

func TestRunWorkerHonorsCancellation(t *testing.T) {
	run := &config.Run{WorkerCmd: "sleep"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runWorker(ctx, run, logger, "60")
	require.Error(t, err)
}

func TestRunWorkerDrainsOutputOfFailingWorker(t *testing.T) {
	// A worker that dumps a burst of output and immediately exits non-zero
	// must have every line forwarded, including the final stderr diagnostic.
	script := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
i=0
while [ $i -lt 200 ]; do
  echo "progress $i"
  i=$((i+1))
done
echo "fatal: model checkpoint missing" >&2
exit 3
`), 0o755))

	handler := &captureHandler{}
	logger := slog.New(handler)
	run := &config.Run{WorkerCmd: script}

	err := runWorker(context.Background(), run, logger, "classify")
	require.Error(t, err)

	got := handler.captured()
	lines := 0
	for _, m := range got {
		if len(m) >= 8 && m[:8] == "progress" {
			lines++
		}
	}
	assert.Equal(t, 200, lines, "no stdout line may be dropped when the worker exits")
	assert.Contains(t, got, "fatal: model checkpoint missing")
}

func TestBoolFlag(t *testing.T) {
	assert.Equal(t, []string{"--move"}, boolFlag("--move", true))
	assert.Nil(t, boolFlag("--move", false))
}

func TestFtoa(t *testing.T) {
	assert.Equal(t, "0.95", ftoa(0.95))
	assert.Equal(t, "1", ftoa(1))
}
