package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOverlayTOML(t *testing.T) {
	path := writeConfig(t, "pipeline.toml", `
pipeline_type = "booru"
dst_dir = "/data/out"
similar_thresh = 0.8
`)

	parent := DefaultOptions()
	got, err := Overlay(parent, path)
	require.NoError(t, err)

	assert.Equal(t, "booru", got.PipelineType)
	assert.Equal(t, "/data/out", got.DstDir)
	assert.Equal(t, 0.8, got.SimilarThresh)
	// Keys absent from the file keep the parent's values.
	assert.Equal(t, parent.MinCropSize, got.MinCropSize)
	assert.Equal(t, parent.ArrangeFormat, got.ArrangeFormat)
}

func TestOverlayYAML(t *testing.T) {
	path := writeConfig(t, "pipeline.yaml", `
pipeline_type: fanart
dst_dir: /data/out
start_stage: classify
end_stage: "6"
`)

	got, err := Overlay(DefaultOptions(), path)
	require.NoError(t, err)
	assert.Equal(t, "fanart", got.PipelineType)
	assert.Equal(t, "classify", got.StartStage)
	assert.Equal(t, "6", got.EndStage)
}

func TestOverlayFlattensSections(t *testing.T) {
	// Knobs may be grouped into tables; the section name only groups.
	path := writeConfig(t, "pipeline.toml", `
dst_dir = "/data/out"

[crop]
min_crop_size = 512
crop_with_head = true

[balance]
min_multiply = 2.0
`)

	got, err := Overlay(DefaultOptions(), path)
	require.NoError(t, err)
	assert.Equal(t, 512, got.MinCropSize)
	assert.True(t, got.CropWithHead)
	assert.Equal(t, 2.0, got.MinMultiply)
}

func TestOverlayDoesNotMutateParent(t *testing.T) {
	path := writeConfig(t, "pipeline.toml", `dst_dir = "/data/out"`)

	parent := DefaultOptions()
	before := parent
	_, err := Overlay(parent, path)
	require.NoError(t, err)
	assert.Equal(t, before, parent)
}

func TestOverlayRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "pipeline.ini", "dst_dir=/data/out")
	_, err := Overlay(DefaultOptions(), path)
	assert.ErrorContains(t, err, "unsupported config extension")
}

func TestOverlayRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "pipeline.toml", `
dst_dir = "/data/out"
similar_thresh = 1.5
`)
	_, err := Overlay(DefaultOptions(), path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	base := write("base.toml", `
dst_dir = "/data/out"
log_dir = "/data/logs"
character_ref_dir = "ref_a"
`)
	p0 := write("booru.toml", `
pipeline_type = "booru"
extra_path_component = "char_x"
n_add_to_ref_per_character = 2
end_stage = "classify"
`)
	p1 := write("screens.yaml", `
pipeline_type: screenshots
extra_path_component: ep01
`)

	runs, err := LoadBatch(base, []string{p0, p1}, Overrides{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 0, runs[0].Index)
	assert.Equal(t, "booru", runs[0].PipelineType)
	assert.Equal(t, "char_x", runs[0].PathComponent)
	assert.Equal(t, 3, runs[0].EndStage)
	assert.True(t, runs[0].IsRefContributor())

	assert.Equal(t, 1, runs[1].Index)
	assert.Equal(t, "screenshots", runs[1].PipelineType)
	assert.Equal(t, 7, runs[1].EndStage)
	assert.False(t, runs[1].IsRefContributor())

	// Base values flow into every pipeline.
	for _, r := range runs {
		assert.Equal(t, "/data/out", r.DstDir)
		assert.Equal(t, "/data/logs", r.LogDir)
		assert.Equal(t, "ref_a", r.RefDir)
	}
}

func TestLoadBatchNoPipelineFiles(t *testing.T) {
	base := writeConfig(t, "base.toml", `dst_dir = "/data/out"`)

	runs, err := LoadBatch(base, nil, Overrides{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 0, runs[0].Index)
}

func TestLoadBatchAppliesOverridesLast(t *testing.T) {
	base := writeConfig(t, "base.toml", `
dst_dir = "/data/out"
start_stage = "2"
`)

	start := "arrange"
	dst := "/override/out"
	runs, err := LoadBatch(base, nil, Overrides{StartStage: &start, DstDir: &dst})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 6, runs[0].StartStage)
	assert.Equal(t, "/override/out", runs[0].DstDir)
}

func TestLoadBatchReportsPipelineIndexOnError(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(good, []byte(`dst_dir = "/data/out"`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`
dst_dir = "/data/out"
start_stage = "7"
end_stage = "2"
`), 0o644))

	_, err := LoadBatch("", []string{good, bad}, Overrides{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "pipeline 1")
}
