package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tanukai/framepipe/internal/journal"
	"github.com/tanukai/framepipe/internal/sched"
	"github.com/tanukai/framepipe/internal/stages"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	batch    batchFlags
	Database string

	// BatchIDGenerator allows overriding the batch ID generator (for tests).
	// If nil, defaults to UUIDv7Generator.
	BatchIDGenerator sched.BatchIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured pipeline batch",
		Long: `Run a batch of dataset pipelines concurrently.

Each --config file describes one pipeline; the --base-config file supplies
shared defaults. Pipelines classifying against the same character reference
directory wait for its contributors to finish classification first.

Example:
  framepipe run --base-config ./base.toml --config ./ep1.toml --config ./fanart.yaml
  framepipe run --config ./screenshots.toml --db ./runs.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, cmd)
		},
	}

	opts.batch.register(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the run journal database (optional)")

	return cmd
}

func runBatch(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	runs, err := opts.batch.load(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	logger.Info("batch loaded", "pipelines", len(runs))

	// --db beats the environment; FRAMEPIPE_DB lets a .env pin the journal
	// location for a whole project checkout.
	if opts.Database == "" {
		opts.Database = os.Getenv("FRAMEPIPE_DB")
	}

	schedOpts := []sched.Option{sched.WithLogger(logger)}
	if opts.Database != "" {
		jnl, err := journal.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := jnl.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		schedOpts = append(schedOpts, sched.WithRecorder(jnl))
	}
	if opts.BatchIDGenerator != nil {
		schedOpts = append(schedOpts, sched.WithBatchIDGenerator(opts.BatchIDGenerator))
	}

	scheduler := sched.New(stages.NewRegistry(), schedOpts...)

	// Graceful shutdown on SIGINT/SIGTERM: cancel the batch context, which
	// unblocks dependency waits and kills in-flight workers.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling batch", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	outcomes, err := scheduler.Run(ctx, runs)
	if err != nil {
		return WrapExitError(ExitCommandError, "batch rejected", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	failed := reportOutcomes(out, outcomes)
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d pipelines failed", failed, len(outcomes)))
	}
	return nil
}

// outcomeReport is the JSON shape of one run's result.
type outcomeReport struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Stage  int    `json:"stage"`
	Error  string `json:"error,omitempty"`
}

func reportOutcomes(out *OutputFormatter, outcomes []sched.Outcome) int {
	failed := 0
	reports := make([]outcomeReport, len(outcomes))
	for i, o := range outcomes {
		reports[i] = outcomeReport{Index: o.Index, Status: o.Status.String(), Stage: o.Stage}
		if o.Err != nil {
			reports[i].Error = o.Err.Error()
		}
		if o.Status == sched.StatusFailed {
			failed++
		}
	}

	if out.Format == "json" {
		_ = out.Success(reports)
		return failed
	}
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(out.Writer, "pipeline %d: %s at stage %d: %s\n", r.Index, r.Status, r.Stage, r.Error)
		} else {
			fmt.Fprintf(out.Writer, "pipeline %d: %s (through stage %d)\n", r.Index, r.Status, r.Stage)
		}
	}
	return failed
}
