// Package grouping clusters visually similar slides and moves each cluster
// into its own folder.
package grouping

import (
	"gonum.org/v1/gonum/stat"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

const (
	DefaultEps        = 0.02
	DefaultMinSamples = 2
)

// CorrelationDistance returns 1 - pearson(a, b), in [0, 2].
//
// A constant feature has no defined correlation. Two such features are at
// distance 0 when they are equal and at 1 otherwise.
func CorrelationDistance(a, b models.SimilarityFeature) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	if constant(a) || constant(b) {
		if equal(a, b) {
			return 0
		}
		return 1
	}

	d := 1 - stat.Correlation(a, b, nil)
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}

func constant(f models.SimilarityFeature) bool {
	for _, v := range f[1:] {
		if v != f[0] {
			return false
		}
	}
	return true
}

func equal(a, b models.SimilarityFeature) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Cluster runs DBSCAN over features and returns one label per feature.
// A point counts itself towards minSamples. Cluster labels start at 0 and are
// assigned in input order; points in no cluster get models.NoiseLabel.
func Cluster(features []models.SimilarityFeature, eps float64, minSamples int) []int {
	n := len(features)
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		neighbors[i] = append(neighbors[i], i)
		for j := i + 1; j < n; j++ {
			if CorrelationDistance(features[i], features[j]) <= eps {
				neighbors[i] = append(neighbors[i], j)
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}

	const unvisited = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbors[i]) < minSamples {
			labels[i] = models.NoiseLabel
			continue
		}

		label := next
		next++
		labels[i] = label
		queue := append([]int(nil), neighbors[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == models.NoiseLabel {
				// border point
				labels[j] = label
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = label
			if len(neighbors[j]) >= minSamples {
				queue = append(queue, neighbors[j]...)
			}
		}
	}
	return labels
}
