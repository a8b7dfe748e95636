package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanukai/framepipe/internal/sched"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	batch batchFlags
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the batch configuration",
		Long: `Validate the batch configuration without executing anything:
schema-checks every config file, verifies stage ranges, rejects duplicate
output trees, and checks the dependency graph for cycles.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateBatch(opts, cmd)
		},
	}

	opts.batch.register(cmd)
	return cmd
}

func validateBatch(opts *ValidateOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	runs, err := opts.batch.load(cmd)
	if err != nil {
		_ = out.Error(err.Error())
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	if err := sched.CheckOutputKeys(runs); err != nil {
		_ = out.Error(err.Error())
		return WrapExitError(ExitFailure, "invalid batch", err)
	}
	if err := sched.CheckCycles(sched.ResolveDeps(runs)); err != nil {
		_ = out.Error(err.Error())
		return WrapExitError(ExitFailure, "invalid batch", err)
	}

	return out.Success(fmt.Sprintf("%d pipeline(s) valid", len(runs)))
}
