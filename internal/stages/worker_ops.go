package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tanukai/framepipe/internal/config"
	"github.com/tanukai/framepipe/internal/layout"
)

// Extract pulls frames out of the source videos into intermediate/raw,
// removing near-duplicates as it goes.
func Extract(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	dst, err := layout.DstDir(run, layout.ModeIntermediate, "raw", true)
	if err != nil {
		return err
	}
	logger.Info("extracting frames", "src", src, "dst", dst)

	args := []string{
		"--src", src,
		"--dst", dst,
		"--image-prefix", run.ImagePrefix,
		"--ep-init", itoa(run.EpisodeInit),
		"--similar-thresh", ftoa(run.SimilarThresh),
	}
	args = append(args, boolFlag("--extract-key", run.ExtractKey)...)
	return runWorker(ctx, run, logger, "extract", args...)
}

// Crop splits individual characters out of the raw frames.
func Crop(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	dst, err := layout.DstDir(run, layout.ModeIntermediate, "cropped", true)
	if err != nil {
		return err
	}
	logger.Info("cropping characters", "src", src, "dst", dst)

	args := []string{
		"--src", src,
		"--dst", dst,
		"--detect-level", run.DetectLevel,
		"--min-crop-size", itoa(run.MinCropSize),
		"--use-3stage-crop", itoa(run.Use3StageCrop),
	}
	args = append(args, boolFlag("--crop-with-head", run.CropWithHead)...)
	args = append(args, boolFlag("--crop-with-face", run.CropWithFace)...)
	return runWorker(ctx, run, logger, "crop", args...)
}

// Classify clusters cropped characters against the shared reference
// directory. This is the synchronization stage: the scheduler guarantees
// every contributing run has finished classifying before this executes for
// a reference-consuming run.
func Classify(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	dst, err := layout.DstDir(run, layout.ModeIntermediate, "classified", true)
	if err != nil {
		return err
	}
	logger.Info("classifying characters", "src", src, "dst", dst, "ref_dir", run.RefDir)

	args := []string{
		"--src", src,
		"--dst", dst,
		"--ref-dir", run.RefDir,
		"--n-add-to-ref", itoa(run.RefContrib),
	}
	move := run.RemoveIntermediate || src == dst
	args = append(args, boolFlag("--move", move)...)
	return runWorker(ctx, run, logger, "classify", args...)
}

// Select builds the training set from classified and raw images.
func Select(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	classified := filepath.Join(src, "classified")
	full := filepath.Join(src, "raw")
	dst, err := layout.DstDir(run, layout.ModeTraining, "", true)
	if err != nil {
		return err
	}

	// After a manual inspection pass, sidecars may have been left behind.
	if run.StartStage == stage {
		if err := layout.RearrangeRelated(classified, logger); err != nil {
			return err
		}
	}

	logger.Info("selecting dataset images", "classified", classified, "raw", full, "dst", dst)
	args := []string{
		"--classified", classified,
		"--full", full,
		"--dst", dst,
		"--pipeline-type", run.PipelineType,
		"--image-type", run.ImageType,
	}
	if err := runWorker(ctx, run, logger, "select", args...); err != nil {
		return err
	}

	if run.RemoveIntermediate {
		logger.Info("removing intermediate classified dir", "dir", classified)
		if err := os.RemoveAll(classified); err != nil {
			return fmt.Errorf("remove %s: %w", classified, err)
		}
	}
	return nil
}

// TagAndCaption tags and captions the training images in place.
func TagAndCaption(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	if run.StartStage == stage {
		if err := layout.RearrangeRelated(src, logger); err != nil {
			return err
		}
	}

	logger.Info("tagging and captioning", "src", src)
	return runWorker(ctx, run, logger, "tag",
		"--src", src,
		"--image-type", run.ImageType,
	)
}
