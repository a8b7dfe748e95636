package stages

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tanukai/framepipe/internal/config"
	"github.com/tanukai/framepipe/internal/layout"
)

// multiplyFile is the per-folder repeat file trainers read.
const multiplyFile = "multiply.txt"

// Balance computes per-folder repeat multipliers so that small character
// combinations are not drowned out by large ones. Each folder containing
// images gets a multiply.txt with its repeat factor: the folder's weight
// (from the optional weight CSV, matched against path components) times the
// size of the largest folder over its own size, clamped to
// [min_multiply, max_multiply].
func Balance(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error {
	src, err := layout.SrcDir(run, stage)
	if err != nil {
		return err
	}
	if run.StartStage == stage {
		if err := layout.RearrangeRelated(src, logger); err != nil {
			return err
		}
	}

	weights, err := loadWeights(run.WeightCSV)
	if err != nil {
		return err
	}
	logger.Info("computing repeats", "dir", src, "weights", len(weights))

	counts, err := countImagesPerDir(src)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		logger.Warn("no images found, nothing to balance", "dir", src)
		return nil
	}

	base := 0
	for _, n := range counts {
		if n > base {
			base = n
		}
	}

	dirs := make([]string, 0, len(counts))
	for dir := range counts {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var report strings.Builder
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := counts[dir]
		multiply := dirWeight(weights, src, dir) * float64(base) / float64(n)
		multiply = min(max(multiply, run.MinMultiply), run.MaxMultiply)

		path := filepath.Join(dir, multiplyFile)
		if err := os.WriteFile(path, []byte(strconv.FormatFloat(multiply, 'f', 3, 64)+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(&report, "%s\t%d\t%.3f\n", dir, n, multiply)
	}

	if run.LogDir != "" {
		if err := writeWeightingReport(run, report.String()); err != nil {
			logger.Warn("cannot write weighting report", "error", err)
		}
	}
	logger.Info("balance finished", "folders", len(counts), "base", base)
	return nil
}

// loadWeights reads the optional name→weight CSV mapping.
func loadWeights(path string) (map[string]float64, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weight csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse weight csv %s: %w", path, err)
	}

	weights := make(map[string]float64, len(rows))
	for _, row := range rows {
		w, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("weight csv %s: bad weight for %q: %w", path, row[0], err)
		}
		weights[strings.TrimSpace(row[0])] = w
	}
	return weights, nil
}

// countImagesPerDir counts images directly contained in each directory
// under root. Directories without images get no multiply file.
func countImagesPerDir(root string) (map[string]int, error) {
	counts := make(map[string]int)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && layout.IsImage(path) {
			counts[filepath.Dir(path)]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return counts, nil
}

// dirWeight multiplies the weights of every path component of dir relative
// to root that appears in the mapping. Unknown components weigh 1.
func dirWeight(weights map[string]float64, root, dir string) float64 {
	if len(weights) == 0 {
		return 1
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return 1
	}
	w := 1.0
	for _, comp := range strings.Split(rel, string(filepath.Separator)) {
		if cw, ok := weights[comp]; ok {
			w *= cw
		}
	}
	return w
}

// writeWeightingReport drops a timestamped repeat summary into the run's
// log directory.
func writeWeightingReport(run *config.Run, body string) error {
	if err := os.MkdirAll(run.LogDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_weighting_%s.log", run.LogPrefix, time.Now().Format("2006-01-02_15-04-05"))
	return os.WriteFile(filepath.Join(run.LogDir, name), []byte(body), 0o644)
}
