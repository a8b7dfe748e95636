// Package layout derives the directory tree a pipeline run reads and writes.
//
// All derivation is pure string computation over the run configuration; the
// only filesystem side effect is the optional MkdirAll in DstDir.
//
// The tree under a run's output root:
//
//	<dst>/intermediate/<component>/<type>/raw        extracted frames
//	<dst>/intermediate/<component>/<type>/cropped    cropped characters
//	<dst>/intermediate/<component>/<type>/classified classified characters
//	<dst>/training/<component>/<type>                selected dataset images
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tanukai/framepipe/internal/config"
)

// Modes naming the two top-level output subtrees.
const (
	ModeIntermediate = "intermediate"
	ModeTraining     = "training"
)

// DstDir builds <dst>/<mode>/<component>/<type>/<sub> and, when create is
// set, makes sure it exists.
func DstDir(r *config.Run, mode, sub string, create bool) (string, error) {
	dir := filepath.Join(r.DstDir, mode, r.PathComponent, r.ImageType, sub)
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return dir, nil
}

// SrcDir returns the directory a stage reads from. The first stage of a run
// always reads the configured source directory; later stages read what the
// previous stage wrote.
func SrcDir(r *config.Run, stage int) (string, error) {
	if stage == r.StartStage || stage == 1 {
		return r.SrcDir, nil
	}
	switch stage {
	case 2:
		return DstDir(r, ModeIntermediate, "raw", false)
	case 3:
		return DstDir(r, ModeIntermediate, "cropped", false)
	case 4:
		return DstDir(r, ModeIntermediate, "", false)
	case 5:
		return DstDir(r, ModeTraining, "", false)
	case 6:
		dir, err := SrcDir(r, 5)
		if err != nil {
			return "", err
		}
		return walkUp(dir, r.RearrangeUpLevels), nil
	case 7:
		dir, err := SrcDir(r, 6)
		if err != nil {
			return "", err
		}
		return walkUp(dir, r.ComputeMultiplyUpLevels), nil
	default:
		return "", fmt.Errorf("invalid stage: %d", stage)
	}
}

// walkUp ascends n parent directories.
func walkUp(dir string, n int) string {
	for i := 0; i < n; i++ {
		dir = filepath.Dir(dir)
	}
	return dir
}
