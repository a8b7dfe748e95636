package cli

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanGolden(t *testing.T) {
	out, err := execute(t, "plan",
		"--base-config", "testdata/base.toml",
		"--config", "testdata/booru.toml",
		"--config", "testdata/screens.toml",
	)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "plan", []byte(out))
}

func TestPlanJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "plan",
		"--base-config", "testdata/base.toml",
		"--config", "testdata/booru.toml",
		"--config", "testdata/screens.toml",
	)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			Index      int    `json:"index"`
			StartStage int    `json:"start_stage"`
			EndStage   int    `json:"end_stage"`
			RefDir     string `json:"ref_dir"`
			WaitsOn    []int  `json:"waits_on"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 1, resp.Data[0].StartStage)
	assert.Equal(t, 3, resp.Data[0].EndStage)
	assert.Empty(t, resp.Data[0].WaitsOn)
	assert.Equal(t, []int{0}, resp.Data[1].WaitsOn)
	assert.Equal(t, "series_ref", resp.Data[1].RefDir)
}

func TestPlanRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "plan", "--config", "testdata/does-not-exist.toml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
