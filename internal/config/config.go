// Package config assembles immutable pipeline run configurations.
//
// A batch is described by a base options file plus one file per pipeline.
// Overlays never mutate a shared object: each overlay step copies the parent
// Options value and decodes the file on top of the copy, so an in-flight
// runner can never observe a partially merged record.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Stage bounds for the fixed seven-stage pipeline.
const (
	MinStage = 1
	MaxStage = 7
)

// SyncStage is the stage at which cross-pipeline ordering is enforced.
// Reference-consuming pipelines wait here until every contributing pipeline
// has finished its own classification.
const SyncStage = 3

// PipelineTypeBooru marks pipelines that classify against a shared character
// reference directory and may contribute images back to it.
const PipelineTypeBooru = "booru"

// stageAliases maps stage names accepted on the command line and in config
// files to stage numbers.
var stageAliases = map[string]int{
	"extract":         1,
	"crop":            2,
	"classify":        3,
	"select":          4,
	"tag":             5,
	"caption":         5,
	"tag_and_caption": 5,
	"arrange":         6,
	"balance":         7,
}

// ParseStage converts a stage given as a number ("3") or an alias
// ("classify") to its stage number.
func ParseStage(s string) (int, error) {
	if n, ok := stageAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("unknown stage %q", s)
	}
	if n < MinStage || n > MaxStage {
		return 0, fmt.Errorf("stage %d out of range [%d,%d]", n, MinStage, MaxStage)
	}
	return n, nil
}

// StageName returns the canonical alias for a stage number.
func StageName(stage int) string {
	switch stage {
	case 1:
		return "extract"
	case 2:
		return "crop"
	case 3:
		return "classify"
	case 4:
		return "select"
	case 5:
		return "tag_and_caption"
	case 6:
		return "arrange"
	case 7:
		return "balance"
	default:
		return fmt.Sprintf("stage-%d", stage)
	}
}

// Options is the mutable, file-shaped form of a pipeline configuration.
// Field names mirror the config file keys. Stages are kept as strings here
// because files may use aliases; Finalize resolves them.
type Options struct {
	PipelineType string `toml:"pipeline_type"`
	ImageType    string `toml:"image_type"`

	SrcDir        string `toml:"src_dir"`
	DstDir        string `toml:"dst_dir"`
	PathComponent string `toml:"extra_path_component"`

	CharacterRefDir string `toml:"character_ref_dir"`
	RefContrib      int    `toml:"n_add_to_ref_per_character"`

	StartStage string `toml:"start_stage"`
	EndStage   string `toml:"end_stage"`

	LogDir    string `toml:"log_dir"`
	LogPrefix string `toml:"log_prefix"`

	// Worker tool executed for the ML-heavy stages (extract through tag).
	WorkerCmd string `toml:"worker_cmd"`

	// Detection / filtering knobs passed through to stage operations.
	ImagePrefix        string  `toml:"image_prefix"`
	EpisodeInit        int     `toml:"ep_init"`
	ExtractKey         bool    `toml:"extract_key"`
	SimilarThresh      float64 `toml:"similar_thresh"`
	DetectLevel        string  `toml:"detect_level"`
	MinCropSize        int     `toml:"min_crop_size"`
	CropWithHead       bool    `toml:"crop_with_head"`
	CropWithFace       bool    `toml:"crop_with_face"`
	Use3StageCrop      int     `toml:"use_3stage_crop"`
	RemoveIntermediate bool    `toml:"remove_intermediate"`
	OverwritePath      bool    `toml:"overwrite_path"`

	LoadAux []string `toml:"load_aux"`
	SaveAux []string `toml:"save_aux"`

	// Arrangement and balancing knobs.
	ArrangeFormat           string  `toml:"arrange_format"`
	MaxCharacterNumber      int     `toml:"max_character_number"`
	MinImagesPerCombination int     `toml:"min_images_per_combination"`
	WeightCSV               string  `toml:"weight_csv"`
	MinMultiply             float64 `toml:"min_multiply"`
	MaxMultiply             float64 `toml:"max_multiply"`
	RearrangeUpLevels       int     `toml:"rearrange_up_levels"`
	ComputeMultiplyUpLevels int     `toml:"compute_multiply_up_levels"`
}

// DefaultOptions returns the option defaults applied before any overlay.
func DefaultOptions() Options {
	return Options{
		PipelineType:            "screenshots",
		StartStage:              "1",
		EndStage:                "7",
		LogPrefix:               "framepipe",
		SimilarThresh:           0.95,
		DetectLevel:             "n",
		MinCropSize:             320,
		ArrangeFormat:           "n_characters/character",
		MaxCharacterNumber:      6,
		MinImagesPerCombination: 10,
		MinMultiply:             1,
		MaxMultiply:             100,
	}
}

// Run is one pipeline run's immutable configuration. Runs are built once by
// Finalize and never modified afterwards; the scheduler and stage operations
// receive them by pointer but treat them as read-only.
type Run struct {
	// Index is the run's position in the submitted batch. It is the identity
	// key for dependency edges and completion signals.
	Index int

	PipelineType string
	ImageType    string

	SrcDir        string
	DstDir        string
	PathComponent string

	// RefDir identifies the shared character reference directory this run
	// reads (and, when RefContrib > 0, writes).
	RefDir     string
	RefContrib int

	StartStage int
	EndStage   int

	LogDir    string
	LogPrefix string

	WorkerCmd string

	ImagePrefix        string
	EpisodeInit        int
	ExtractKey         bool
	SimilarThresh      float64
	DetectLevel        string
	MinCropSize        int
	CropWithHead       bool
	CropWithFace       bool
	Use3StageCrop      int
	RemoveIntermediate bool
	OverwritePath      bool

	LoadAux []string
	SaveAux []string

	ArrangeFormat           string
	MaxCharacterNumber      int
	MinImagesPerCombination int
	WeightCSV               string
	MinMultiply             float64
	MaxMultiply             float64
	RearrangeUpLevels       int
	ComputeMultiplyUpLevels int
}

// OutputKey is the identity triple that must be unique across a batch.
// Two runs writing the same triple would silently overwrite each other's
// output trees, so the scheduler rejects such batches before launch.
type OutputKey struct {
	DstDir        string
	PathComponent string
	ImageType     string
}

// OutputKey returns the run's output identity triple.
func (r *Run) OutputKey() OutputKey {
	return OutputKey{DstDir: r.DstDir, PathComponent: r.PathComponent, ImageType: r.ImageType}
}

// IsRefContributor reports whether this run adds images to its shared
// reference directory. Contributors are exempt from waiting on peers.
func (r *Run) IsRefContributor() bool {
	return r.PipelineType == PipelineTypeBooru && r.RefContrib > 0
}

// canonical NFC-normalizes a user-supplied name so that identity comparisons
// (output triples, reference directories) are not fooled by Unicode
// composition differences in character or series names.
func canonical(s string) string {
	return norm.NFC.String(s)
}

// Finalize validates options and produces the immutable Run for the given
// batch index. The image type defaults to the pipeline type, matching the
// directory layout convention.
func (o Options) Finalize(index int) (Run, error) {
	start, err := ParseStage(o.StartStage)
	if err != nil {
		return Run{}, fmt.Errorf("start_stage: %w", err)
	}
	end, err := ParseStage(o.EndStage)
	if err != nil {
		return Run{}, fmt.Errorf("end_stage: %w", err)
	}
	if start > end {
		return Run{}, fmt.Errorf("start_stage %d after end_stage %d", start, end)
	}
	if o.DstDir == "" {
		return Run{}, fmt.Errorf("dst_dir is required")
	}

	imageType := o.ImageType
	if imageType == "" {
		imageType = o.PipelineType
	}

	return Run{
		Index:         index,
		PipelineType:  canonical(o.PipelineType),
		ImageType:     canonical(imageType),
		SrcDir:        o.SrcDir,
		DstDir:        o.DstDir,
		PathComponent: canonical(o.PathComponent),
		RefDir:        canonical(o.CharacterRefDir),
		RefContrib:    o.RefContrib,
		StartStage:    start,
		EndStage:      end,
		LogDir:        o.LogDir,
		LogPrefix:     o.LogPrefix,
		WorkerCmd:     o.WorkerCmd,

		ImagePrefix:        o.ImagePrefix,
		EpisodeInit:        o.EpisodeInit,
		ExtractKey:         o.ExtractKey,
		SimilarThresh:      o.SimilarThresh,
		DetectLevel:        o.DetectLevel,
		MinCropSize:        o.MinCropSize,
		CropWithHead:       o.CropWithHead,
		CropWithFace:       o.CropWithFace,
		Use3StageCrop:      o.Use3StageCrop,
		RemoveIntermediate: o.RemoveIntermediate,
		OverwritePath:      o.OverwritePath,

		LoadAux: append([]string(nil), o.LoadAux...),
		SaveAux: append([]string(nil), o.SaveAux...),

		ArrangeFormat:           o.ArrangeFormat,
		MaxCharacterNumber:      o.MaxCharacterNumber,
		MinImagesPerCombination: o.MinImagesPerCombination,
		WeightCSV:               o.WeightCSV,
		MinMultiply:             o.MinMultiply,
		MaxMultiply:             o.MaxMultiply,
		RearrangeUpLevels:       o.RearrangeUpLevels,
		ComputeMultiplyUpLevels: o.ComputeMultiplyUpLevels,
	}, nil
}
