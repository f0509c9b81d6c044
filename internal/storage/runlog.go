package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// RunLog is the log file of a single video run. It must be closed when the
// video's pipeline ends, on every path.
type RunLog struct {
	path   string
	file   *os.File
	logger *slog.Logger
}

// OpenRunLog creates (or truncates) dir/name.log
func OpenRunLog(dir, name string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", dir, err)
	}
	path := filepath.Join(dir, name+".log")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file '%s': %w", path, err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// records stay reproducible across runs
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return &RunLog{path: path, file: file, logger: slog.New(handler)}, nil
}

// Path returns the log file location
func (l *RunLog) Path() string { return l.path }

// Logger returns the structured logger bound to this file
func (l *RunLog) Logger() *slog.Logger { return l.logger }

// Comparison appends the record of one non-baseline comparison
func (l *RunLog) Comparison(frame *models.SampledFrame, res models.ComparisonResult, saved *models.SavedSlide) {
	attrs := []any{
		slog.Int("frame", frame.Index),
		slog.String("timestamp", LogLabel(frame.TimestampMs)),
		slog.String("scores", res.Diagnostic),
		slog.Bool("changed", res.Changed),
	}
	if saved != nil {
		attrs = append(attrs, slog.String("saved", filepath.Base(saved.Path)))
	}
	l.logger.Info("comparison", attrs...)
}

// ComparisonFailed appends the record of a changed comparison whose slide
// could not be saved
func (l *RunLog) ComparisonFailed(frame *models.SampledFrame, res models.ComparisonResult, err error) {
	l.logger.Error("comparison",
		slog.Int("frame", frame.Index),
		slog.String("timestamp", LogLabel(frame.TimestampMs)),
		slog.String("scores", res.Diagnostic),
		slog.Bool("changed", res.Changed),
		slog.Any("error", err))
}

// Summary appends the closing record with the number of saved slides
func (l *RunLog) Summary(video string, slides int) {
	l.logger.Info("extraction complete", slog.String("video", video), slog.Int("slides", slides))
}

// Close flushes and closes the log file. It is safe to call more than once.
func (l *RunLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
