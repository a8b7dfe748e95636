package cli

import (
	"github.com/spf13/cobra"

	"github.com/tanukai/framepipe/internal/config"
)

// batchFlags are the config-selection flags shared by run, plan, and
// validate. Override flags are applied to every pipeline in the batch, but
// only when explicitly set on the command line.
type batchFlags struct {
	BaseConfig string
	Configs    []string

	pipelineType string
	imageType    string
	srcDir       string
	dstDir       string
	refDir       string
	startStage   string
	endStage     string
	logDir       string
	workerCmd    string
}

func (b *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.BaseConfig, "base-config", "", "base config file applied to every pipeline")
	cmd.Flags().StringSliceVar(&b.Configs, "config", nil, "per-pipeline config file (repeatable)")

	cmd.Flags().StringVar(&b.pipelineType, "pipeline-type", "", "override pipeline type")
	cmd.Flags().StringVar(&b.imageType, "image-type", "", "override image type")
	cmd.Flags().StringVar(&b.srcDir, "src-dir", "", "override source directory")
	cmd.Flags().StringVar(&b.dstDir, "dst-dir", "", "override output root")
	cmd.Flags().StringVar(&b.refDir, "ref-dir", "", "override character reference directory")
	cmd.Flags().StringVar(&b.startStage, "start-stage", "", "override start stage (number or name)")
	cmd.Flags().StringVar(&b.endStage, "end-stage", "", "override end stage (number or name)")
	cmd.Flags().StringVar(&b.logDir, "log-dir", "", "override per-run log directory")
	cmd.Flags().StringVar(&b.workerCmd, "worker-cmd", "", "override worker tool command")
}

// load assembles the batch, mapping only explicitly changed flags to
// overrides so file values are not clobbered by flag defaults.
func (b *batchFlags) load(cmd *cobra.Command) ([]config.Run, error) {
	ov := config.Overrides{}
	set := func(name string, dst **string, v *string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("pipeline-type", &ov.PipelineType, &b.pipelineType)
	set("image-type", &ov.ImageType, &b.imageType)
	set("src-dir", &ov.SrcDir, &b.srcDir)
	set("dst-dir", &ov.DstDir, &b.dstDir)
	set("ref-dir", &ov.RefDir, &b.refDir)
	set("start-stage", &ov.StartStage, &b.startStage)
	set("end-stage", &ov.EndStage, &b.endStage)
	set("log-dir", &ov.LogDir, &b.logDir)
	set("worker-cmd", &ov.WorkerCmd, &b.workerCmd)

	return config.LoadBatch(b.BaseConfig, b.Configs, ov)
}
