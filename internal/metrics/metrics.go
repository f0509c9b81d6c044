package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the counters of one extraction run
type Recorder struct {
	registry *prometheus.Registry

	FramesDecoded prometheus.Counter
	FramesSampled prometheus.Counter
	Comparisons   *prometheus.CounterVec
	SlidesSaved   prometheus.Counter
	Videos        *prometheus.CounterVec
	Clusters      prometheus.Counter
	VideoDuration prometheus.Histogram
	ActiveVideos  prometheus.Gauge
	SkippedImages prometheus.Counter
}

// New registers the run metrics on a private registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "slides_frames_decoded_total",
			Help: "Total number of frames decoded across all videos",
		}),
		FramesSampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "slides_frames_sampled_total",
			Help: "Total number of frames that landed on a sampling boundary",
		}),
		Comparisons: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slides_comparisons_total",
			Help: "Total number of frame comparisons, by decision",
		}, []string{"decision"}),
		SlidesSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "slides_saved_total",
			Help: "Total number of slides written",
		}),
		Videos: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slides_videos_processed_total",
			Help: "Total number of videos processed, by status",
		}, []string{"status"}),
		Clusters: factory.NewCounter(prometheus.CounterOpts{
			Name: "slides_clusters_total",
			Help: "Total number of duplicate-slide clusters found",
		}),
		VideoDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "slides_video_processing_duration_seconds",
			Help:    "Duration of the per-video pipeline",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		ActiveVideos: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slides_active_videos",
			Help: "Number of videos currently being processed",
		}),
		SkippedImages: factory.NewCounter(prometheus.CounterOpts{
			Name: "slides_grouping_skipped_images_total",
			Help: "Total number of images the grouping pass could not decode",
		}),
	}
}

// Comparison counts one comparison outcome
func (r *Recorder) Comparison(changed bool) {
	decision := "unchanged"
	if changed {
		decision = "changed"
	}
	r.Comparisons.WithLabelValues(decision).Inc()
}

// VideoDone records the outcome of one video
func (r *Recorder) VideoDone(err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	r.Videos.WithLabelValues(status).Inc()
	r.VideoDuration.Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, e.g. for tests
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// WriteTextfile dumps all metrics in the text exposition format, for the
// node_exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to '%s': %w", path, err)
	}
	return nil
}
