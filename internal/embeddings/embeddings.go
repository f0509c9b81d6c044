package embeddings

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// HistogramBins is the length of every similarity feature
const HistogramBins = 256

// work represents a unit of feature extraction
type work struct {
	item   models.WorkItem
	result chan<- models.FeatureResult
}

// cached remembers which version of a file a feature was computed from
type cached struct {
	size    int64
	modTime time.Time
	feature models.SimilarityFeature
}

// Service manages histogram extraction and caching
type Service struct {
	numWorkers int
	workQueue  chan work
	cache      sync.Map // image path -> cached
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService creates a new feature service with the specified number of workers
func NewService(numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4
	}

	service := &Service{
		numWorkers: numWorkers,
		workQueue:  make(chan work, 100),
	}
	service.startWorkers()
	return service
}

// startWorkers starts a pool of goroutines for decoding images
func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for w := range s.workQueue {
				feature, err := s.feature(w.item.ImagePath)
				w.result <- models.FeatureResult{
					ImagePath: w.item.ImagePath,
					Index:     w.item.Index,
					Feature:   feature,
					Err:       err,
				}
			}
		}()
	}
}

func (s *Service) feature(path string) (models.SimilarityFeature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, models.NewImageDecodeError(path, err)
	}
	if v, ok := s.cache.Load(path); ok {
		c := v.(cached)
		if c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
			return c.feature, nil
		}
	}
	feature, err := FeatureFromFile(path)
	if err == nil {
		s.cache.Store(path, cached{size: info.Size(), modTime: info.ModTime(), feature: feature})
	}
	return feature, err
}

// Extract computes the features of paths concurrently. Results are returned
// in the order of paths; a failed image has Err set and a nil Feature.
func (s *Service) Extract(ctx context.Context, paths []string) ([]models.FeatureResult, error) {
	results := make([]models.FeatureResult, len(paths))
	resultChan := make(chan models.FeatureResult, len(paths))

	queued := 0
	for i, p := range paths {
		item := models.WorkItem{ImagePath: p, Index: i, Total: len(paths)}
		select {
		case s.workQueue <- work{item: item, result: resultChan}:
			queued++
		case <-ctx.Done():
			// drain what was already handed to the workers
			for ; queued > 0; queued-- {
				<-resultChan
			}
			return nil, ctx.Err()
		}
	}

	for ; queued > 0; queued-- {
		r := <-resultChan
		results[r.Index] = r
	}
	return results, nil
}

// Forget drops the cached feature of path, e.g. after the file moved
func (s *Service) Forget(path string) {
	s.cache.Delete(path)
}

// Close shuts down the service and waits for all workers to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.workQueue) })
	s.wg.Wait()
}

// FeatureFromFile decodes an image and returns its feature. The file is
// read into memory first so that paths OpenCV cannot open still decode.
func FeatureFromFile(path string) (models.SimilarityFeature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewImageDecodeError(path, err)
	}
	if len(data) == 0 {
		return nil, models.NewImageDecodeError(path, errors.New("empty file"))
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, models.NewImageDecodeError(path, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, models.NewImageDecodeError(path, errors.New("unsupported or corrupt image"))
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	return Histogram(gray), nil
}

// Histogram returns the L2-normalised 256-bin histogram of an 8-bit
// single-channel image
func Histogram(gray gocv.Mat) models.SimilarityFeature {
	mask := gocv.NewMat()
	defer mask.Close()
	hist := gocv.NewMat()
	defer hist.Close()
	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, mask, &hist, []int{HistogramBins}, []float64{0, HistogramBins}, false)

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(hist, &norm, 1, 0, gocv.NormL2)

	feature := make(models.SimilarityFeature, HistogramBins)
	if norm.Empty() {
		return feature
	}
	for i := range feature {
		feature[i] = float64(norm.GetFloatAt(i, 0))
	}
	return feature
}
