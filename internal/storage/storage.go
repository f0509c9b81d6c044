package storage

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// CatalogEntry is one slide as indexed by a Catalog
type CatalogEntry struct {
	Seq     int
	Label   string
	Path    string
	Group   int // models.NoiseLabel when the slide is in no cluster
	Feature models.SimilarityFeature
}

// SlideMatch is a catalog hit for a similarity query
type SlideMatch struct {
	Video    string
	Seq      int
	Label    string
	Path     string
	Group    int
	Distance float64
}

// Catalog defines the interface for indexing the final slide set of a video
type Catalog interface {
	// RecordSlides replaces the indexed slides of video with entries
	RecordSlides(ctx context.Context, video models.VideoSource, entries []CatalogEntry) error

	// Close releases the catalog
	Close()
}

// NopCatalog discards everything. It is used when no catalog is configured.
type NopCatalog struct{}

func (NopCatalog) RecordSlides(context.Context, models.VideoSource, []CatalogEntry) error {
	return nil
}

func (NopCatalog) Close() {}

// EntriesFromReport builds catalog entries from a finished video. Slides that
// were grouped carry their cluster label and feature.
func EntriesFromReport(report models.VideoReport) []CatalogEntry {
	byName := map[string]models.Assignment{}
	if report.Grouping != nil {
		for _, a := range report.Grouping.Assignments {
			byName[filepath.Base(a.Path)] = a
		}
	}

	entries := make([]CatalogEntry, 0, len(report.Slides))
	for _, slide := range report.Slides {
		entry := CatalogEntry{
			Seq:   slide.Seq,
			Label: slide.Label,
			Path:  slide.Path,
			Group: models.NoiseLabel,
		}
		if a, ok := byName[filepath.Base(slide.Path)]; ok {
			entry.Path = a.Path
			entry.Group = a.Label
			entry.Feature = a.Feature
		}
		entries = append(entries, entry)
	}
	return entries
}

// EntriesFromGrouping builds catalog entries for a directory grouped on its
// own, recovering sequence numbers and labels from the slide file names.
// Files that do not follow the slide naming scheme are left out.
func EntriesFromGrouping(report *models.GroupingReport) []CatalogEntry {
	var entries []CatalogEntry
	for _, a := range report.Assignments {
		seq, label, ok := ParseSlideName(filepath.Base(a.Path))
		if !ok {
			continue
		}
		entries = append(entries, CatalogEntry{
			Seq:     seq,
			Label:   label,
			Path:    a.Path,
			Group:   a.Label,
			Feature: a.Feature,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries
}
