package grouping

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/androcom/invideo-ppt-to-png/internal/embeddings"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

func spike(bins ...int) models.SimilarityFeature {
	f := make(models.SimilarityFeature, 256)
	for _, b := range bins {
		f[b] = 1
	}
	return f
}

// writeTwoTone writes a 16x16 image whose upper half is level a and lower half level b
func writeTwoTone(t *testing.T, path string, a, b uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := a
			if y >= 8 {
				v = b
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestCorrelationDistance(t *testing.T) {
	a := spike(10, 20)
	assert.InDelta(t, 0, CorrelationDistance(a, a), 1e-12)

	d := CorrelationDistance(spike(10), spike(200))
	assert.Greater(t, d, 1.0)
	assert.LessOrEqual(t, d, 2.0)

	flat := make(models.SimilarityFeature, 256)
	assert.Equal(t, 0.0, CorrelationDistance(flat, flat))
	assert.Equal(t, 1.0, CorrelationDistance(flat, spike(3)))
	assert.Equal(t, 1.0, CorrelationDistance(spike(1), spike(1, 2)[:3]))
}

func histMat(t *testing.T, f models.SimilarityFeature) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(len(f), 1, gocv.MatTypeCV32F)
	for i, v := range f {
		m.SetFloatAt(i, 0, float32(v))
	}
	return m
}

func TestCorrelationDistanceMatchesOpenCV(t *testing.T) {
	pairs := [][2]models.SimilarityFeature{
		{spike(10, 20), spike(10, 21)},
		{spike(0, 128, 255), spike(0, 128)},
		{spike(5), spike(250)},
	}
	for _, p := range pairs {
		a, b := histMat(t, p[0]), histMat(t, p[1])
		want := 1 - float64(gocv.CompareHist(a, b, gocv.HistCmpCorrel))
		a.Close()
		b.Close()
		assert.InDelta(t, want, CorrelationDistance(p[0], p[1]), 1e-5)
	}
}

func TestClusterLabelsInScanOrder(t *testing.T) {
	features := []models.SimilarityFeature{
		spike(1),      // noise
		spike(50, 60), // cluster 0
		spike(100),    // cluster 1
		spike(50, 60),
		spike(100),
		spike(200), // noise
	}
	labels := Cluster(features, DefaultEps, DefaultMinSamples)
	assert.Equal(t, []int{-1, 0, 1, 0, 1, -1}, labels)
}

func TestClusterMinSamples(t *testing.T) {
	features := []models.SimilarityFeature{spike(5), spike(5), spike(9)}

	assert.Equal(t, []int{0, 0, -1}, Cluster(features, DefaultEps, 2))
	assert.Equal(t, []int{-1, -1, -1}, Cluster(features, DefaultEps, 3))
	// a point is its own neighbour
	assert.Equal(t, []int{0, 0, 1}, Cluster(features, DefaultEps, 1))
}

func TestClusterEmpty(t *testing.T) {
	assert.Empty(t, Cluster(nil, DefaultEps, DefaultMinSamples))
}

func TestGroupIdenticalAndDistinct(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 10; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%03d_00h-00m-%02ds.png", i, i))
		if i%2 == 1 {
			writeTwoTone(t, path, 30, 220)
		} else {
			level := uint8(40 + 25*i)
			writeTwoTone(t, path, level, level+7)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.log"), []byte("log"), 0644))

	features := embeddings.NewService(2)
	defer features.Close()

	report, err := NewGrouper(features, nil).Group(context.Background(), dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, 10, report.Scanned)
	assert.Empty(t, report.Skipped)
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, 0, report.Clusters[0].Label)
	assert.Len(t, report.Clusters[0].Members, 5)
	assert.Len(t, report.Noise, 5)
	assert.Len(t, report.Assignments, 10)

	grouped, err := ScanImages(filepath.Join(dir, "Group_0"))
	require.NoError(t, err)
	assert.Len(t, grouped, 5)
	assert.FileExists(t, filepath.Join(dir, "Group_0", "001_00h-00m-01s.png"))

	top, err := ScanImages(dir)
	require.NoError(t, err)
	assert.Len(t, top, 5)
	assert.FileExists(t, filepath.Join(dir, "video.log"))
}

func TestGroupSkipsUndecodable(t *testing.T) {
	dir := t.TempDir()
	writeTwoTone(t, filepath.Join(dir, "001_a.png"), 0, 255)
	writeTwoTone(t, filepath.Join(dir, "002_b.png"), 0, 255)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "003_c.png"), []byte("garbage"), 0644))

	features := embeddings.NewService(1)
	defer features.Close()

	report, err := NewGrouper(features, nil).Group(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "003_c.png")}, report.Skipped)
	require.Len(t, report.Clusters, 1)
	assert.FileExists(t, filepath.Join(dir, "003_c.png"))
}

func TestGroupTooFewImages(t *testing.T) {
	dir := t.TempDir()
	writeTwoTone(t, filepath.Join(dir, "001_a.png"), 0, 255)

	features := embeddings.NewService(1)
	defer features.Close()

	report, err := NewGrouper(features, nil).Group(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Empty(t, report.Clusters)
	assert.FileExists(t, filepath.Join(dir, "001_a.png"))
	assert.NoDirExists(t, filepath.Join(dir, "Group_0"))
}

func TestGroupRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	writeTwoTone(t, filepath.Join(dir, "001_00h-00m-01s.png"), 30, 220)
	writeTwoTone(t, filepath.Join(dir, "002_00h-00m-02s.png"), 30, 220)

	// left over from an earlier grouping of the same folder
	existing := filepath.Join(dir, "Group_0", "002_00h-00m-02s.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0755))
	require.NoError(t, os.WriteFile(existing, []byte("older slide"), 0644))

	features := embeddings.NewService(1)
	defer features.Close()

	_, err := NewGrouper(features, nil).Group(context.Background(), dir, Options{})
	require.ErrorIs(t, err, os.ErrExist)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "older slide", string(data))
	assert.FileExists(t, filepath.Join(dir, "001_00h-00m-01s.png"))
	assert.FileExists(t, filepath.Join(dir, "002_00h-00m-02s.png"))
	assert.NoFileExists(t, filepath.Join(dir, "Group_0", "001_00h-00m-01s.png"))
}
