package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanukai/framepipe/internal/config"
	"github.com/tanukai/framepipe/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [batch-id]",
		Short: "Show the stage event log for a batch",
		Long: `Show the journaled stage events of a past batch run, in order.
Without a batch ID the most recent batch is shown.

Example:
  framepipe trace --db ./runs.db
  framepipe trace --db ./runs.db 0190a5e3-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := ""
			if len(args) == 1 {
				batchID = args[0]
			}
			return showTrace(opts, batchID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the run journal database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func showTrace(opts *TraceOptions, batchID string, cmd *cobra.Command) error {
	jnl, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jnl.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if batchID == "" {
		batches, err := jnl.Batches(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list batches", err)
		}
		if len(batches) == 0 {
			return NewExitError(ExitCommandError, "journal is empty")
		}
		batchID = batches[0]
	}

	events, err := jnl.Events(ctx, batchID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no events for batch %s", batchID))
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(events)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "batch %s\n", batchID)
	for _, e := range events {
		line := fmt.Sprintf("%6d  pipeline %d  stage %d (%s)  %s",
			e.Seq, e.RunIndex, e.Stage, config.StageName(e.Stage), e.Event)
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
