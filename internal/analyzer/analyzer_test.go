package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/androcom/invideo-ppt-to-png/internal/compare"
	"github.com/androcom/invideo-ppt-to-png/internal/embeddings"
	"github.com/androcom/invideo-ppt-to-png/internal/extractor"
	"github.com/androcom/invideo-ppt-to-png/internal/extractor/extractortest"
	"github.com/androcom/invideo-ppt-to-png/internal/grouping"
	"github.com/androcom/invideo-ppt-to-png/internal/metrics"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
	"github.com/androcom/invideo-ppt-to-png/internal/storage"
)

type recordingCatalog struct {
	mu      sync.Mutex
	entries map[string][]storage.CatalogEntry
}

func (c *recordingCatalog) RecordSlides(_ context.Context, video models.VideoSource, entries []storage.CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string][]storage.CatalogEntry{}
	}
	c.entries[video.Name] = entries
	return nil
}

func (c *recordingCatalog) Close() {}

func cascade(t *testing.T) compare.Method {
	t.Helper()
	m, err := compare.New(compare.KindCascade, compare.Thresholds{Pixel: 0.005, SSIM: 0.05})
	require.NoError(t, err)
	return m
}

func newTestProcessor(t *testing.T, dec extractor.Decoder, opts Options, catalog storage.Catalog, rec *metrics.Recorder) *Processor {
	t.Helper()
	var grouper *grouping.Grouper
	if opts.Grouping != nil {
		features := embeddings.NewService(2)
		t.Cleanup(features.Close)
		grouper = grouping.NewGrouper(features, nil)
	}
	return NewProcessor(dec, cascade(t), grouper, catalog, rec, nil, opts)
}

func defaultOptions() Options {
	return Options{
		Sampling: extractor.SamplingConfig{IntervalSeconds: 1},
		Writer:   storage.WriterOptions{Format: storage.FormatPNG},
	}
}

func countLines(t *testing.T, path, substr string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Count(string(data), substr)
}

func TestProcessVideoStaticFrames(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/static.mp4": {Width: 64, Height: 64, FrameRate: 30, Frames: 300, Fill: extractortest.SwitchAt(1000, 128, 128)},
	}}
	rec := metrics.New()

	report := newTestProcessor(t, dec, defaultOptions(), nil, rec).ProcessVideo(context.Background(), "in/static.mp4", out)
	require.NoError(t, report.Err)

	assert.Equal(t, 10, report.Sampled)
	assert.Equal(t, 9, report.Comparisons)
	assert.Empty(t, report.Slides)
	assert.Equal(t, filepath.Join(out, "static_slides"), report.OutputDir)

	logPath := filepath.Join(out, "static_slides", "static.log")
	assert.Equal(t, 9, countLines(t, logPath, "msg=comparison"))
	assert.Equal(t, 1, countLines(t, logPath, "slides=0"))
	// one record per comparison plus the summary, nothing else
	assert.Equal(t, 10, countLines(t, logPath, "\n"))
	assert.Zero(t, countLines(t, logPath, "extraction started"))

	assert.Equal(t, 300.0, testutil.ToFloat64(rec.FramesDecoded))
	assert.Equal(t, 9.0, testutil.ToFloat64(rec.Comparisons.WithLabelValues("unchanged")))
}

func TestProcessVideoSingleSwitch(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/lecture.mp4": {Width: 64, Height: 64, FrameRate: 30, Frames: 300, Fill: extractortest.SwitchAt(150, 128, 255)},
	}}

	report := newTestProcessor(t, dec, defaultOptions(), nil, nil).ProcessVideo(context.Background(), "in/lecture.mp4", out)
	require.NoError(t, report.Err)

	require.Len(t, report.Slides, 1)
	slide := report.Slides[0]
	assert.Equal(t, 1, slide.Seq)
	assert.Equal(t, "00h-00m-05s", slide.Label)
	assert.Equal(t, filepath.Join(out, "lecture_slides", "001_00h-00m-05s.png"), slide.Path)
	assert.FileExists(t, slide.Path)

	logPath := filepath.Join(out, "lecture_slides", "lecture.log")
	assert.Equal(t, 1, countLines(t, logPath, "changed=true"))
	assert.Equal(t, 8, countLines(t, logPath, "changed=false"))
}

func TestProcessVideoRejectsTinyResolution(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/tiny.mp4": {Width: 6, Height: 6, FrameRate: 30, Frames: 60, Fill: extractortest.SwitchAt(30, 0, 255)},
	}}

	report := newTestProcessor(t, dec, defaultOptions(), nil, nil).ProcessVideo(context.Background(), "in/tiny.mp4", out)

	var resErr *models.ResolutionTooSmallError
	require.True(t, errors.As(report.Err, &resErr))
	assert.Equal(t, 6, resErr.Width)

	entries, err := os.ReadDir(filepath.Join(out, "tiny_slides"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tiny.log", entries[0].Name())
}

func TestProcessVideoFrameRateFallback(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/norate.mp4": {Width: 16, Height: 16, FrameRate: 0, Frames: 90},
	}}

	report := newTestProcessor(t, dec, defaultOptions(), nil, nil).ProcessVideo(context.Background(), "in/norate.mp4", out)
	require.NoError(t, report.Err)
	assert.True(t, report.Source.FrameRateFallback)
	assert.Equal(t, extractor.FallbackFrameRate, report.Source.FrameRate)
	assert.Equal(t, 3, report.Sampled)

	logPath := filepath.Join(out, "norate_slides", "norate.log")
	assert.Equal(t, 1, countLines(t, logPath, "level=WARN"))
}

func TestProcessVideoKeepsSlidesOnDecodeFailure(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/broken.mp4": {Width: 16, Height: 16, FrameRate: 10, Frames: 100, FailAfter: 45, Fill: extractortest.SwitchAt(25, 0, 255)},
	}}

	report := newTestProcessor(t, dec, defaultOptions(), nil, nil).ProcessVideo(context.Background(), "in/broken.mp4", out)
	require.Error(t, report.Err)
	require.Len(t, report.Slides, 1)
	assert.FileExists(t, report.Slides[0].Path)
	assert.Equal(t, 1, countLines(t, filepath.Join(out, "broken_slides", "broken.log"), "slides=1"))
}

func TestProcessVideoUnreadableStream(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/corrupt.mp4": {Width: 16, Height: 16, FrameRate: 10, Frames: 100, Unreadable: true},
	}}

	report := newTestProcessor(t, dec, defaultOptions(), nil, nil).ProcessVideo(context.Background(), "in/corrupt.mp4", out)

	var openErr *models.VideoOpenError
	require.True(t, errors.As(report.Err, &openErr))
	assert.Equal(t, "in/corrupt.mp4", openErr.Path)
	assert.Zero(t, report.Sampled)
	assert.Empty(t, report.Slides)

	logPath := filepath.Join(out, "corrupt_slides", "corrupt.log")
	assert.Equal(t, 1, countLines(t, logPath, "level=ERROR"))
	assert.Equal(t, 1, countLines(t, logPath, "slides=0"))
}

func talkVideo() func(int, []byte) {
	// 0-9 black, 10-19 white, 20-29 black, 30-39 white at 10 fps
	return func(index int, buf []byte) {
		if (index/10)%2 == 1 {
			extractortest.Solid(buf, 255)
			return
		}
		extractortest.Solid(buf, 0)
	}
}

func TestProcessVideoGroupsAndCatalogs(t *testing.T) {
	out := t.TempDir()
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		"in/talk.mp4": {Width: 16, Height: 16, FrameRate: 10, Frames: 40, Fill: talkVideo()},
	}}
	opts := defaultOptions()
	opts.Grouping = &grouping.Options{Eps: grouping.DefaultEps, MinSamples: grouping.DefaultMinSamples}
	catalog := &recordingCatalog{}

	report := newTestProcessor(t, dec, opts, catalog, nil).ProcessVideo(context.Background(), "in/talk.mp4", out)
	require.NoError(t, report.Err)

	// white at 1s, black at 2s, white at 3s
	require.Len(t, report.Slides, 3)
	require.NotNil(t, report.Grouping)
	require.Len(t, report.Grouping.Clusters, 1)
	assert.Len(t, report.Grouping.Clusters[0].Members, 2)
	assert.Len(t, report.Grouping.Noise, 1)

	dir := filepath.Join(out, "talk_slides")
	assert.FileExists(t, filepath.Join(dir, "Group_0", "001_00h-00m-01s.png"))
	assert.FileExists(t, filepath.Join(dir, "Group_0", "003_00h-00m-03s.png"))
	assert.FileExists(t, filepath.Join(dir, "002_00h-00m-02s.png"))

	entries := catalog.entries["talk"]
	require.Len(t, entries, 3)
	assert.Equal(t, 0, entries[0].Group)
	assert.Equal(t, models.NoiseLabel, entries[1].Group)
	assert.Len(t, entries[2].Feature, embeddings.HistogramBins)
}

func TestProcessVideoRerunReplacesOutput(t *testing.T) {
	out := t.TempDir()
	video := &extractortest.Video{Width: 16, Height: 16, FrameRate: 10, Frames: 40, Fill: talkVideo()}
	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{"in/talk.mp4": video}}
	opts := defaultOptions()
	opts.Grouping = &grouping.Options{Eps: grouping.DefaultEps, MinSamples: grouping.DefaultMinSamples}
	p := newTestProcessor(t, dec, opts, nil, nil)

	first := p.ProcessVideo(context.Background(), "in/talk.mp4", out)
	require.NoError(t, first.Err)
	require.Len(t, first.Slides, 3)

	dir := filepath.Join(out, "talk_slides")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep"), 0644))

	// the second run sees only the first switch
	video.Frames = 20
	second := p.ProcessVideo(context.Background(), "in/talk.mp4", out)
	require.NoError(t, second.Err)
	require.Len(t, second.Slides, 1)
	require.NotNil(t, second.Grouping)
	assert.Empty(t, second.Grouping.Clusters)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"001_00h-00m-01s.png", "notes.txt", "talk.log"}, names)
	assert.Equal(t, 1, countLines(t, filepath.Join(dir, "talk.log"), "slides=1"))
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	for _, name := range []string{"a.mp4", "b.MP4", "c.mp4", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(in, name), nil, 0644))
	}

	dec := &extractortest.Decoder{Videos: map[string]*extractortest.Video{
		filepath.Join(in, "a.mp4"): {Width: 64, Height: 64, FrameRate: 30, Frames: 300, Fill: extractortest.SwitchAt(150, 128, 255)},
		filepath.Join(in, "c.mp4"): {Width: 64, Height: 64, FrameRate: 30, Frames: 300, Fill: extractortest.SwitchAt(150, 255, 0)},
	}}
	rec := metrics.New()
	p := newTestProcessor(t, dec, defaultOptions(), nil, rec)

	report, err := p.ProcessBatch(context.Background(), BatchOptions{
		InputDir:        in,
		OutputDir:       out,
		VideoExtensions: []string{".mp4"},
		Workers:         2,
		RunID:           uuid.New(),
	})
	require.NoError(t, err)
	require.Len(t, report.Videos, 3)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 2, report.Slides())
	assert.Len(t, dec.Opened(), 3)

	var openErr *models.VideoOpenError
	assert.True(t, errors.As(report.Videos[1].Err, &openErr))
	assert.FileExists(t, filepath.Join(out, "b_slides", "b.log"))
	assert.FileExists(t, filepath.Join(out, "c_slides", "001_00h-00m-05s.png"))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Videos.WithLabelValues("failed")))
}

func TestProcessBatchNoVideos(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	p := newTestProcessor(t, &extractortest.Decoder{}, defaultOptions(), nil, nil)

	report, err := p.ProcessBatch(context.Background(), BatchOptions{InputDir: in, OutputDir: out, VideoExtensions: []string{".mp4"}})
	require.NoError(t, err)
	assert.Empty(t, report.Videos)
	assert.NoDirExists(t, out)
}

func TestProcessBatchMissingInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	p := newTestProcessor(t, &extractortest.Decoder{}, defaultOptions(), nil, nil)

	_, err := p.ProcessBatch(context.Background(), BatchOptions{
		InputDir:        filepath.Join(t.TempDir(), "missing"),
		OutputDir:       out,
		VideoExtensions: []string{".mp4"},
	})
	assert.ErrorIs(t, err, models.ErrInputDirectory)
	assert.NoDirExists(t, out)
}
