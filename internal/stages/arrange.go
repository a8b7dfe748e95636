package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tanukai/framepipe/internal/config"
	"github.com/tanukai/framepipe/internal/layout"
)

// combination folder names for images falling outside the normal grouping.
const (
	comboNoCharacters = "0_characters"
	comboOthers       = "character_others"
)

// imageMeta is the slice of the sidecar metadata arrange cares about.
type imageMeta struct {
	Characters []string `json:"characters"`
}

// Arrange groups the training images into folders by character combination,
// following the run's arrange format (e.g. "n_characters/character": one
// level for the character count, one for the sorted combination).
// Combinations with fewer images than min_images_per_combination are pooled
// into a shared folder so they do not fragment the dataset.
func Arrange(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	if run.StartStage == stage {
		if err := layout.RearrangeRelated(src, logger); err != nil {
			return err
		}
	}
	logger.Info("arranging by character combination", "dir", src, "format", run.ArrangeFormat)

	images, err := collectImages(src)
	if err != nil {
		return err
	}

	// First pass: combination sizes, for the min-images pooling rule.
	combos := make(map[string]int)
	metas := make(map[string][]string, len(images))
	for _, img := range images {
		chars, err := readCharacters(img)
		if err != nil {
			return err
		}
		metas[img] = chars
		combos[comboName(chars)]++
	}

	// Second pass: move each image (with sidecars) into its folder.
	moved := 0
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		chars := metas[img]
		combo := comboName(chars)
		if len(chars) > 0 && combos[combo] < run.MinImagesPerCombination {
			combo = comboOthers
		}
		dst := filepath.Join(src, arrangePath(run, chars, combo))
		if dst == filepath.Dir(img) {
			continue
		}
		if err := layout.MoveWithSidecars(img, dst); err != nil {
			return err
		}
		moved++
	}

	logger.Info("arrange finished", "images", len(images), "moved", moved)
	return nil
}

// collectImages lists all images under root up front, so moving files does
// not disturb the walk.
func collectImages(root string) ([]string, error) {
	var images []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && layout.IsImage(path) {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(images)
	return images, nil
}

// readCharacters loads the characters list from an image's JSON sidecar.
// A missing sidecar means no character information, not an error.
func readCharacters(imagePath string) ([]string, error) {
	sidecar := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta imageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", sidecar, err)
	}
	sort.Strings(meta.Characters)
	return meta.Characters, nil
}

// comboName renders a sorted character list as a folder name.
func comboName(chars []string) string {
	if len(chars) == 0 {
		return comboNoCharacters
	}
	return strings.Join(chars, "+")
}

// arrangePath expands the arrange format into the relative folder path for
// an image. Format segments: "n_characters" becomes "<n>_characters",
// "character" becomes the combination folder.
func arrangePath(run *config.Run, chars []string, combo string) string {
	n := len(chars)
	if n > run.MaxCharacterNumber {
		n = run.MaxCharacterNumber
	}
	var parts []string
	for _, seg := range strings.Split(run.ArrangeFormat, "/") {
		switch seg {
		case "n_characters":
			parts = append(parts, fmt.Sprintf("%d_characters", n))
		case "character":
			parts = append(parts, combo)
		default:
			parts = append(parts, seg)
		}
	}
	return filepath.Join(parts...)
}
