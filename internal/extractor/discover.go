package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// DiscoverVideos lists the files directly inside dir whose extension is in
// exts, compared case-insensitively, sorted by name.
func DiscoverVideos(dir string, exts []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInputDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", models.ErrInputDirectory, dir)
	}

	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[NormalizeExt(ext)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %v", models.ErrInputDirectory, dir, err)
	}

	var videos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if allowed[NormalizeExt(filepath.Ext(entry.Name()))] {
			videos = append(videos, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(videos)
	return videos, nil
}

// NormalizeExt lower-cases ext and makes sure it starts with a dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SlidesDir returns the output folder of a video: <outputDir>/<stem>_slides.
func SlidesDir(outputDir, videoPath string) string {
	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return filepath.Join(outputDir, stem+"_slides")
}
