package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// ImageFormat is the encoding of saved slides
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpg"
)

// ParseImageFormat accepts png, jpg and jpeg.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// DefaultJPEGQuality matches the OpenCV encoder default.
const DefaultJPEGQuality = 95

// WriterOptions configures how slides are encoded
type WriterOptions struct {
	Format      ImageFormat
	JPEGQuality int
}

// SlideWriter persists changed frames with contiguous sequence numbers
type SlideWriter struct {
	dir  string
	opts WriterOptions
	log  *RunLog
	seq  int
}

// NewSlideWriter creates a writer that saves into dir and records into log
func NewSlideWriter(dir string, opts WriterOptions, log *RunLog) *SlideWriter {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	return &SlideWriter{dir: dir, opts: opts, log: log}
}

// Count returns how many slides were saved so far
func (w *SlideWriter) Count() int { return w.seq }

// Record handles one comparison: a changed frame is saved under the next
// sequence number, and every comparison is appended to the run log. A slide
// that cannot be written leaves no file behind and consumes no number.
func (w *SlideWriter) Record(frame *models.SampledFrame, res models.ComparisonResult) (*models.SavedSlide, error) {
	if !res.Changed {
		w.log.Comparison(frame, res, nil)
		return nil, nil
	}

	seq := w.seq + 1
	label := FileLabel(frame.TimestampMs)
	path := filepath.Join(w.dir, SlideName(seq, label, w.opts.Format))
	if err := w.save(path, frame); err != nil {
		w.log.ComparisonFailed(frame, res, err)
		return nil, err
	}
	w.seq = seq

	slide := &models.SavedSlide{Seq: seq, Label: label, Path: path}
	w.log.Comparison(frame, res, slide)
	return slide, nil
}

func (w *SlideWriter) save(path string, frame *models.SampledFrame) error {
	buf, err := w.encode(frame)
	if err != nil {
		return fmt.Errorf("failed to encode slide '%s': %w", path, err)
	}
	defer buf.Close()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create slide '%s': %w", path, err)
	}
	_, err = file.Write(buf.GetBytes())
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write slide '%s': %w", path, err)
	}
	return nil
}

func (w *SlideWriter) encode(frame *models.SampledFrame) (*gocv.NativeByteBuffer, error) {
	img, err := frameMat(frame)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	if w.opts.Format == FormatJPEG {
		return gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), w.opts.JPEGQuality})
	}
	return gocv.IMEncode(gocv.PNGFileExt, img)
}

// frameMat returns the frame in OpenCV's BGR channel order, or as a single
// grey channel when the frame carries no colour.
func frameMat(frame *models.SampledFrame) (gocv.Mat, error) {
	n := frame.Width * frame.Height
	if len(frame.RGB) != n*3 {
		return gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8U, frame.Gray)
	}

	rgb, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.RGB)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)
	return bgr, nil
}

var slideNameRe = regexp.MustCompile(`^(\d{3,})_(\d{2,}h-\d{2}m-\d{2}s)$`)

// SlideName returns the file name of slide seq, e.g. 001_00h-00m-05s.png
func SlideName(seq int, label string, format ImageFormat) string {
	return fmt.Sprintf("%03d_%s.%s", seq, label, format)
}

// ParseSlideName extracts the sequence number and label from a slide file name.
func ParseSlideName(name string) (seq int, label string, ok bool) {
	m := slideNameRe.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
	if m == nil {
		return 0, "", false
	}
	seq, _ = strconv.Atoi(m[1])
	return seq, m[2], true
}

var groupDirRe = regexp.MustCompile(`^Group_-?\d+$`)

// ClearSlides removes the slides and Group_N folders an earlier run left in
// dir, so a re-run never mixes old and new output. Other files are kept.
func ClearSlides(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read output directory '%s': %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		var stale bool
		if e.IsDir() {
			stale = groupDirRe.MatchString(name)
		} else if _, err := ParseImageFormat(filepath.Ext(name)); err == nil {
			_, _, stale = ParseSlideName(name)
		}
		if !stale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to remove stale output '%s': %w", name, err)
		}
	}
	return nil
}

func splitClock(ms float64) (h, m, s int) {
	total := int(ms / 1000)
	return total / 3600, (total / 60) % 60, total % 60
}

func clockLabel(h, m, s int, hs, ms, ss string) string {
	return fmt.Sprintf("%02d%s%02d%s%02d%s", h, hs, m, ms, s, ss)
}

// FileLabel formats a playback position for file names: 00h-00m-05s
func FileLabel(ms float64) string {
	h, m, s := splitClock(ms)
	return clockLabel(h, m, s, "h-", "m-", "s")
}

// LogLabel formats a playback position for log records: 00h 00m 05s
func LogLabel(ms float64) string {
	h, m, s := splitClock(ms)
	return clockLabel(h, m, s, "h ", "m ", "s")
}
