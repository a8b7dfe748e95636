package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Overrides carries explicitly set command-line values. Nil fields were not
// given and leave the file-derived value untouched. Overrides are applied
// last, after every file overlay, to every pipeline in the batch.
type Overrides struct {
	PipelineType *string
	ImageType    *string
	SrcDir       *string
	DstDir       *string
	RefDir       *string
	StartStage   *string
	EndStage     *string
	LogDir       *string
	WorkerCmd    *string
}

// Apply returns a copy of o with the non-nil override values set.
func (o Options) Apply(ov Overrides) Options {
	out := o
	if ov.PipelineType != nil {
		out.PipelineType = *ov.PipelineType
	}
	if ov.ImageType != nil {
		out.ImageType = *ov.ImageType
	}
	if ov.SrcDir != nil {
		out.SrcDir = *ov.SrcDir
	}
	if ov.DstDir != nil {
		out.DstDir = *ov.DstDir
	}
	if ov.RefDir != nil {
		out.CharacterRefDir = *ov.RefDir
	}
	if ov.StartStage != nil {
		out.StartStage = *ov.StartStage
	}
	if ov.EndStage != nil {
		out.EndStage = *ov.EndStage
	}
	if ov.LogDir != nil {
		out.LogDir = *ov.LogDir
	}
	if ov.WorkerCmd != nil {
		out.WorkerCmd = *ov.WorkerCmd
	}
	return out
}

// Overlay returns a copy of the parent options with the keys present in the
// given config file decoded on top. The parent is never modified.
//
// Files may be TOML (.toml) or YAML (.yaml, .yml), selected by extension.
// One level of table nesting is flattened, so knobs may be grouped into
// sections without changing their key names.
func Overlay(parent Options, path string) (Options, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return Options{}, err
	}
	if err := ValidateRaw(raw); err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}

	// Re-encode the flattened map as TOML and decode it onto a copy of the
	// parent. Decoding touches only the keys present in the file, which is
	// exactly the overlay semantics we want.
	out := parent
	encoded, err := toml.Marshal(raw)
	if err != nil {
		return Options{}, fmt.Errorf("%s: re-encode: %w", path, err)
	}
	if err := toml.Unmarshal(encoded, &out); err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// loadRaw reads a config file into a flat string-keyed map.
func loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	m := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: parse toml: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: parse yaml: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported config extension %q", path, ext)
	}

	return flatten(m), nil
}

// flatten lifts the keys of one level of nested tables to the top level.
// Nested section names themselves are dropped; they exist only for grouping.
func flatten(m map[string]any) map[string]any {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			for nk, nv := range sub {
				flat[nk] = nv
			}
			continue
		}
		flat[k] = v
	}
	return flat
}

// LoadBatch assembles the batch of runs:
//
//	defaults → base file → per-pipeline file → explicit overrides → Finalize
//
// With no per-pipeline files the base options alone describe a single run.
func LoadBatch(baseFile string, pipelineFiles []string, ov Overrides) ([]Run, error) {
	base := DefaultOptions()
	if baseFile != "" {
		var err error
		base, err = Overlay(base, baseFile)
		if err != nil {
			return nil, err
		}
	}

	var optsList []Options
	if len(pipelineFiles) == 0 {
		optsList = []Options{base}
	} else {
		for _, path := range pipelineFiles {
			opts, err := Overlay(base, path)
			if err != nil {
				return nil, err
			}
			optsList = append(optsList, opts)
		}
	}

	runs := make([]Run, 0, len(optsList))
	for i, opts := range optsList {
		run, err := opts.Apply(ov).Finalize(i)
		if err != nil {
			return nil, fmt.Errorf("pipeline %d: %w", i, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
