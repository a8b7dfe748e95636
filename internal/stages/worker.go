package stages

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/tanukai/framepipe/internal/config"
)

// runWorker invokes the configured worker tool for one stage verb. The
// worker performs the model-backed image work; this process owns only the
// directory plumbing around it. The subcommand inherits the run's context,
// so cancelling the batch kills in-flight workers.
func runWorker(ctx context.Context, run *config.Run, logger *slog.Logger, verb string, args ...string) error {
	if run.WorkerCmd == "" {
		return fmt.Errorf("stage %q needs worker_cmd to be configured", verb)
	}

	cmd := exec.CommandContext(ctx, run.WorkerCmd, append([]string{verb}, args...)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker %s: %w", verb, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker %s: %w", verb, err)
	}

	logger.Debug("starting worker", "verb", verb, "cmd", run.WorkerCmd, "args", args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker %s: start: %w", verb, err)
	}

	// Both pipes must be fully drained before Wait: Wait closes the pipes
	// once the command exits, and closing them under the scanners would drop
	// whatever output is still buffered, usually the diagnostics of a
	// failing stage.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLines(stdout, logger, slog.LevelInfo, verb)
	}()
	go func() {
		defer wg.Done()
		forwardLines(stderr, logger, slog.LevelWarn, verb)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("worker %s: %w", verb, err)
	}
	return nil
}

// forwardLines streams a worker pipe into the run's logger, line by line,
// so worker output stays attributable to its run.
func forwardLines(r io.Reader, logger *slog.Logger, level slog.Level, verb string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Log(context.Background(), level, scanner.Text(), "worker", verb)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("worker output truncated", "worker", verb, "error", err)
	}
}

func boolFlag(name string, v bool) []string {
	if v {
		return []string{name}
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
