package layout

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ImageExts lists the image extensions the pipeline operates on.
var ImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

// SidecarExts lists the per-image auxiliary file extensions that must stay
// next to their image: tag/caption metadata and character embedding files.
var SidecarExts = []string{".json", ".ccip", ".txt"}

// IsImage reports whether the path has a recognized image extension.
func IsImage(path string) bool {
	return ImageExts[strings.ToLower(filepath.Ext(path))]
}

// SidecarPaths returns the candidate sidecar paths for an image path, in the
// same directory, derived from the image's stem.
func SidecarPaths(imagePath string) []string {
	stem := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	out := make([]string, 0, len(SidecarExts))
	for _, ext := range SidecarExts {
		out = append(out, stem+ext)
	}
	return out
}

// RearrangeRelated moves sidecar files back next to their image after a
// manual inspection pass has shuffled images between folders. For every
// image under root, any sidecar with a matching stem found elsewhere in the
// tree is moved into the image's directory.
func RearrangeRelated(root string, logger *slog.Logger) error {
	// First pass: index image stems by directory.
	imageDir := make(map[string]string) // stem (base name, no ext) -> dir
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImage(path) {
			return nil
		}
		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		imageDir[stem] = filepath.Dir(path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index images under %s: %w", root, err)
	}

	// Second pass: move strays.
	moved := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || IsImage(path) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !isSidecarExt(ext) {
			return nil
		}
		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		dir, ok := imageDir[stem]
		if !ok || dir == filepath.Dir(path) {
			return nil
		}
		dst := filepath.Join(dir, base)
		if err := os.Rename(path, dst); err != nil {
			return fmt.Errorf("move %s: %w", path, err)
		}
		moved++
		return nil
	})
	if err != nil {
		return err
	}

	if moved > 0 {
		logger.Info("rearranged related files", "root", root, "moved", moved)
	}
	return nil
}

func isSidecarExt(ext string) bool {
	for _, s := range SidecarExts {
		if ext == s {
			return true
		}
	}
	return false
}

// MoveWithSidecars moves an image and any existing sidecars into dstDir.
func MoveWithSidecars(imagePath, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dstDir, err)
	}
	paths := append([]string{imagePath}, SidecarPaths(imagePath)...)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.Rename(p, filepath.Join(dstDir, filepath.Base(p))); err != nil {
			return fmt.Errorf("move %s: %w", p, err)
		}
	}
	return nil
}
