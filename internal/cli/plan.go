package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanukai/framepipe/internal/config"
	"github.com/tanukai/framepipe/internal/sched"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	batch batchFlags
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the batch plan without executing",
		Long: `Show what a batch would do: each pipeline's stage range and the
classification-stage dependency edges between pipelines. Nothing is
executed and nothing is written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPlan(opts, cmd)
		},
	}

	opts.batch.register(cmd)
	return cmd
}

func showPlan(opts *PlanOptions, cmd *cobra.Command) error {
	runs, err := opts.batch.load(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	deps := sched.ResolveDeps(runs)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(planReport(runs, deps))
	}
	fmt.Fprint(cmd.OutOrStdout(), RenderPlan(runs, deps))
	return nil
}

// planEntry is the JSON shape of one planned pipeline.
type planEntry struct {
	Index        int    `json:"index"`
	PipelineType string `json:"pipeline_type"`
	ImageType    string `json:"image_type"`
	StartStage   int    `json:"start_stage"`
	EndStage     int    `json:"end_stage"`
	RefDir       string `json:"ref_dir,omitempty"`
	WaitsOn      []int  `json:"waits_on,omitempty"`
}

func planReport(runs []config.Run, deps map[int][]int) []planEntry {
	entries := make([]planEntry, len(runs))
	for i := range runs {
		r := &runs[i]
		entries[i] = planEntry{
			Index:        r.Index,
			PipelineType: r.PipelineType,
			ImageType:    r.ImageType,
			StartStage:   r.StartStage,
			EndStage:     r.EndStage,
			RefDir:       r.RefDir,
			WaitsOn:      deps[r.Index],
		}
	}
	return entries
}

// RenderPlan renders the batch plan as deterministic, diff-friendly text.
func RenderPlan(runs []config.Run, deps map[int][]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch: %d pipeline(s)\n", len(runs))
	for i := range runs {
		r := &runs[i]
		fmt.Fprintf(&b, "\npipeline %d (%s/%s)\n", r.Index, r.PipelineType, r.ImageType)
		fmt.Fprintf(&b, "  stages: %d-%d (%s .. %s)\n",
			r.StartStage, r.EndStage,
			config.StageName(r.StartStage), config.StageName(r.EndStage))
		if r.RefDir != "" {
			fmt.Fprintf(&b, "  ref dir: %s\n", r.RefDir)
		}
		if providers := deps[r.Index]; len(providers) > 0 {
			sorted := append([]int(nil), providers...)
			sort.Ints(sorted)
			nums := make([]string, len(sorted))
			for j, p := range sorted {
				nums[j] = fmt.Sprintf("%d", p)
			}
			fmt.Fprintf(&b, "  waits at stage %d for: %s\n", config.SyncStage, strings.Join(nums, ", "))
		}
	}
	return b.String()
}
