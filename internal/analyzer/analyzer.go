package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/androcom/invideo-ppt-to-png/internal/compare"
	"github.com/androcom/invideo-ppt-to-png/internal/extractor"
	"github.com/androcom/invideo-ppt-to-png/internal/grouping"
	"github.com/androcom/invideo-ppt-to-png/internal/metrics"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
	"github.com/androcom/invideo-ppt-to-png/internal/progress"
	"github.com/androcom/invideo-ppt-to-png/internal/storage"
)

// Options configures the per-video pipeline
type Options struct {
	Sampling extractor.SamplingConfig
	Writer   storage.WriterOptions

	// Grouping runs the deduplicator after each video when set
	Grouping *grouping.Options

	// Progress receives the per-video progress bars; nil disables them
	Progress io.Writer
}

// Processor runs sampling, change detection and slide writing for videos
type Processor struct {
	decoder extractor.Decoder
	method  compare.Method
	grouper *grouping.Grouper
	catalog storage.Catalog
	metrics *metrics.Recorder
	logger  *slog.Logger
	opts    Options
}

// NewProcessor wires a processor. grouper may be nil when grouping is
// disabled; catalog and recorder may be nil.
func NewProcessor(decoder extractor.Decoder, method compare.Method, grouper *grouping.Grouper,
	catalog storage.Catalog, recorder *metrics.Recorder, logger *slog.Logger, opts Options) *Processor {
	if catalog == nil {
		catalog = storage.NopCatalog{}
	}
	if recorder == nil {
		recorder = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		decoder: decoder,
		method:  method,
		grouper: grouper,
		catalog: catalog,
		metrics: recorder,
		logger:  logger,
		opts:    opts,
	}
}

// ProcessVideo extracts the slides of one video into its own folder under
// outputDir. Failures are recorded in the report and in the video's log.
func (p *Processor) ProcessVideo(ctx context.Context, videoPath, outputDir string) (report models.VideoReport) {
	start := time.Now()
	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	dir := extractor.SlidesDir(outputDir, videoPath)
	logger := p.logger.With(slog.String("video", name))

	report = models.VideoReport{
		Source:    models.VideoSource{Path: videoPath, Name: name},
		OutputDir: dir,
	}

	p.metrics.ActiveVideos.Inc()
	defer func() {
		p.metrics.ActiveVideos.Dec()
		p.metrics.VideoDone(report.Err, time.Since(start))
	}()

	runLog, err := storage.OpenRunLog(dir, name)
	if err != nil {
		report.Err = err
		logger.Error("failed to open video log", slog.Any("error", err))
		return report
	}
	defer runLog.Close()
	vlog := runLog.Logger()

	fail := func(msg string, err error) models.VideoReport {
		report.Err = err
		vlog.Error(msg, slog.Any("error", err))
		logger.Error(msg, slog.Any("error", err))
		return report
	}

	if err := storage.ClearSlides(dir); err != nil {
		return fail("cannot clear previous output", err)
	}

	stream, err := p.decoder.Open(ctx, videoPath)
	if err != nil {
		return fail("cannot open video", err)
	}
	defer stream.Close()

	src := stream.Source()
	report.Source = src
	if err := models.CheckResolution(src); err != nil {
		return fail("resolution too small", err)
	}

	fps, fallback := extractor.EffectiveFrameRate(src.FrameRate)
	if fallback {
		report.Source.FrameRate = fps
		report.Source.FrameRateFallback = true
		attrs := []any{slog.Float64("fallback_fps", fps), slog.Any("warning", models.ErrFrameRateUnknown)}
		vlog.Warn("frame rate unknown, using fallback", attrs...)
		logger.Warn("frame rate unknown, using fallback", attrs...)
	}

	sampler := extractor.NewSampler(stream, p.opts.Sampling, fps)
	detector := compare.NewDetector(p.method)
	writer := storage.NewSlideWriter(dir, p.opts.Writer, runLog)

	total := src.FrameCount
	if total <= 0 {
		total = -1
	}
	bar := progress.New(total, name, p.opts.Progress)
	sampler.OnDecode = func() {
		_ = bar.Add(1)
		p.metrics.FramesDecoded.Inc()
	}

	logger.Debug("extraction started",
		slog.String("video", src.Path),
		slog.Int("width", src.Width),
		slog.Int("height", src.Height),
		slog.Float64("fps", fps),
		slog.Int("period", sampler.Period()),
		slog.String("method", string(p.method.Kind())))

	for {
		if err := ctx.Err(); err != nil {
			report.Err = err
			vlog.Warn("extraction cancelled", slog.Any("error", err))
			break
		}

		frame, err := sampler.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sampler.Decoded() == 0 {
				// nothing was ever decoded: the source is unreadable
				report.Err = models.NewVideoOpenError(videoPath, err)
			} else {
				report.Err = fmt.Errorf("decode '%s' after %d frames: %w", name, sampler.Decoded(), err)
			}
			vlog.Error("decoding stopped", slog.Any("error", report.Err))
			logger.Error("decoding stopped", slog.Any("error", report.Err))
			break
		}
		report.Sampled++
		p.metrics.FramesSampled.Inc()

		res, ok := detector.Observe(frame)
		if !ok {
			continue
		}
		report.Comparisons++
		p.metrics.Comparison(res.Changed)

		slide, err := writer.Record(frame, res)
		if err != nil {
			report.Err = err
			vlog.Error("failed to save slide", slog.Any("error", err))
			logger.Error("failed to save slide", slog.Any("error", err))
			break
		}
		if slide != nil {
			report.Slides = append(report.Slides, *slide)
			p.metrics.SlidesSaved.Inc()
		}
	}
	_ = bar.Finish()
	runLog.Summary(name, writer.Count())

	logger.Info("extraction complete",
		slog.Int("decoded", sampler.Decoded()),
		slog.Int("sampled", report.Sampled),
		slog.Int("slides", len(report.Slides)))

	if report.Err != nil {
		return report
	}

	if p.grouper != nil && p.opts.Grouping != nil {
		opts := *p.opts.Grouping
		opts.Progress = p.opts.Progress
		grp, err := p.grouper.Group(ctx, dir, opts)
		report.Grouping = grp
		if err != nil {
			report.Err = err
			logger.Error("grouping failed", slog.Any("error", err))
			return report
		}
		p.metrics.Clusters.Add(float64(len(grp.Clusters)))
		p.metrics.SkippedImages.Add(float64(len(grp.Skipped)))
	}

	if err := p.catalog.RecordSlides(ctx, report.Source, storage.EntriesFromReport(report)); err != nil {
		logger.Warn("failed to update slide catalog", slog.Any("error", err))
	}
	return report
}

// BatchReport summarises a run over an input directory
type BatchReport struct {
	RunID  uuid.UUID
	Videos []models.VideoReport
}

// Failed returns the number of videos that ended with an error
func (b *BatchReport) Failed() int {
	n := 0
	for _, v := range b.Videos {
		if v.Err != nil {
			n++
		}
	}
	return n
}

// Slides returns the number of slides saved across the batch
func (b *BatchReport) Slides() int {
	n := 0
	for _, v := range b.Videos {
		n += len(v.Slides)
	}
	return n
}

// BatchOptions selects the videos of a batch
type BatchOptions struct {
	InputDir        string
	OutputDir       string
	VideoExtensions []string
	Workers         int
	RunID           uuid.UUID
}

// ProcessBatch processes every matching video in the input directory. A
// failing video never stops the others; only a missing input directory is
// returned as an error.
func (p *Processor) ProcessBatch(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	videos, err := extractor.DiscoverVideos(opts.InputDir, opts.VideoExtensions)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{RunID: opts.RunID, Videos: make([]models.VideoReport, len(videos))}
	if len(videos) == 0 {
		p.logger.Info("no videos found", slog.String("dir", opts.InputDir),
			slog.String("extensions", strings.Join(opts.VideoExtensions, ",")))
		return report, nil
	}
	p.logger.Info("starting batch", slog.Int("videos", len(videos)), slog.Int("workers", max(1, opts.Workers)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Workers))
	for i, video := range videos {
		g.Go(func() error {
			report.Videos[i] = p.ProcessVideo(gctx, video, opts.OutputDir)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("batch complete",
		slog.Int("videos", len(report.Videos)),
		slog.Int("failed", report.Failed()),
		slog.Int("slides", report.Slides()))
	return report, nil
}
