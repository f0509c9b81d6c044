package grouping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/androcom/invideo-ppt-to-png/internal/embeddings"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
	"github.com/androcom/invideo-ppt-to-png/internal/progress"
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Options configures a deduplication pass
type Options struct {
	Eps        float64
	MinSamples int
	Progress   io.Writer // nil disables the progress bar
}

func (o Options) withDefaults() Options {
	if o.Eps <= 0 {
		o.Eps = DefaultEps
	}
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	return o
}

// Grouper moves clusters of similar slides into Group_<label> folders
type Grouper struct {
	features *embeddings.Service
	logger   *slog.Logger
}

// NewGrouper creates a grouper backed by the given feature service
func NewGrouper(features *embeddings.Service, logger *slog.Logger) *Grouper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grouper{features: features, logger: logger}
}

// ScanImages lists the image files directly inside dir, sorted by name
func ScanImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read slide directory '%s': %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Group clusters the images in dir and relocates every clustered image.
// Images that fail to decode are reported and left untouched. Noise stays at
// the top level.
func (g *Grouper) Group(ctx context.Context, dir string, opts Options) (*models.GroupingReport, error) {
	opts = opts.withDefaults()
	logger := g.logger.With(slog.String("dir", dir))

	paths, err := ScanImages(dir)
	if err != nil {
		return nil, err
	}
	report := &models.GroupingReport{Dir: dir, Scanned: len(paths)}
	if len(paths) < 2 {
		logger.Info("not enough images to group", slog.Int("images", len(paths)))
		return report, nil
	}

	results, err := g.features.Extract(ctx, paths)
	if err != nil {
		return nil, err
	}

	var valid []string
	var features []models.SimilarityFeature
	for _, r := range results {
		if r.Err != nil {
			var decodeErr *models.ImageDecodeError
			if !errors.As(r.Err, &decodeErr) {
				return nil, r.Err
			}
			logger.Warn("skipping undecodable image", slog.String("image", r.ImagePath), slog.Any("error", r.Err))
			report.Skipped = append(report.Skipped, r.ImagePath)
			continue
		}
		valid = append(valid, r.ImagePath)
		features = append(features, r.Feature)
	}
	if len(valid) < 2 {
		logger.Info("not enough decodable images to group", slog.Int("images", len(valid)))
		return report, nil
	}

	labels := Cluster(features, opts.Eps, opts.MinSamples)

	// refuse before anything moves rather than leave a half-grouped folder
	for i, label := range labels {
		if label == models.NoiseLabel {
			continue
		}
		dst := filepath.Join(dir, GroupDirName(label), filepath.Base(valid[i]))
		if err := vacant(dst); err != nil {
			return report, fmt.Errorf("cannot group '%s': %w", valid[i], err)
		}
	}

	bar := progress.New(len(labels), "Grouping slides", opts.Progress)
	clusters := map[int]*models.Cluster{}
	for i, label := range labels {
		_ = bar.Add(1)
		path := valid[i]
		if label == models.NoiseLabel {
			report.Noise = append(report.Noise, path)
			report.Assignments = append(report.Assignments, models.Assignment{Path: path, Label: label, Feature: features[i]})
			continue
		}

		moved, err := relocate(path, filepath.Join(dir, GroupDirName(label)))
		if err != nil {
			return report, err
		}
		g.features.Forget(path)

		c, ok := clusters[label]
		if !ok {
			c = &models.Cluster{Label: label}
			clusters[label] = c
		}
		c.Members = append(c.Members, moved)
		report.Assignments = append(report.Assignments, models.Assignment{Path: moved, Label: label, Feature: features[i]})
	}
	_ = bar.Finish()

	for label := 0; label < len(clusters); label++ {
		report.Clusters = append(report.Clusters, *clusters[label])
	}

	logger.Info("grouping complete",
		slog.Int("images", len(valid)),
		slog.Int("clusters", len(report.Clusters)),
		slog.Int("noise", len(report.Noise)),
		slog.Int("skipped", len(report.Skipped)))
	return report, nil
}

// GroupDirName returns the folder name of cluster label
func GroupDirName(label int) string {
	return fmt.Sprintf("Group_%d", label)
}

func relocate(path, groupDir string) (string, error) {
	if err := os.MkdirAll(groupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create group directory '%s': %w", groupDir, err)
	}
	dst := filepath.Join(groupDir, filepath.Base(path))
	if err := vacant(dst); err != nil {
		return "", fmt.Errorf("failed to move '%s': %w", path, err)
	}
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("failed to move '%s' to '%s': %w", path, groupDir, err)
	}
	return dst, nil
}

// vacant reports os.ErrExist when something already occupies path
func vacant(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return &os.PathError{Op: "move", Path: path, Err: os.ErrExist}
	case errors.Is(err, os.ErrNotExist):
		return nil
	}
	return err
}
