package extractor

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// FallbackFrameRate substitutes a frame rate the container did not report.
const FallbackFrameRate = 30.0

// SamplingConfig selects how often frames are sampled
type SamplingConfig struct {
	IntervalSeconds float64
	FrameInterval   int // when positive, used as the period directly
}

// EffectiveFrameRate returns fps, or FallbackFrameRate and true when fps is unknown.
func EffectiveFrameRate(fps float64) (float64, bool) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return FallbackFrameRate, true
	}
	return fps, false
}

// Period returns the number of decoded frames between two samples, at least 1.
func Period(cfg SamplingConfig, fps float64) int {
	if cfg.FrameInterval > 0 {
		return cfg.FrameInterval
	}
	return max(1, int(math.Round(cfg.IntervalSeconds*fps)))
}

// Sampler turns a decoded stream into the sequence of sampled frames
type Sampler struct {
	stream  Stream
	width   int
	height  int
	fps     float64
	period  int
	counter int
	buf     []byte

	// OnDecode, when set, is called once per decoded frame
	OnDecode func()
}

// NewSampler creates a sampler over stream. fps must already be resolved
// with EffectiveFrameRate.
func NewSampler(stream Stream, cfg SamplingConfig, fps float64) *Sampler {
	src := stream.Source()
	return &Sampler{
		stream: stream,
		width:  src.Width,
		height: src.Height,
		fps:    fps,
		period: Period(cfg, fps),
		buf:    make([]byte, src.Width*src.Height*3),
	}
}

// Period returns the sampling period in frames
func (s *Sampler) Period() int { return s.period }

// Decoded returns how many frames were read from the stream so far
func (s *Sampler) Decoded() int { return s.counter }

// Next returns the next frame on a sampling boundary. Frames in between are
// read and dropped. It returns io.EOF when the stream ends.
func (s *Sampler) Next() (*models.SampledFrame, error) {
	for {
		if err := s.stream.ReadFrame(s.buf); err != nil {
			return nil, err
		}
		s.counter++
		if s.OnDecode != nil {
			s.OnDecode()
		}
		if s.counter%s.period != 0 {
			continue
		}

		index := s.counter - 1
		rgb := make([]uint8, len(s.buf))
		copy(rgb, s.buf)
		gray, err := Grayscale(rgb, s.width, s.height)
		if err != nil {
			return nil, err
		}
		return &models.SampledFrame{
			Index:       index,
			TimestampMs: float64(index) * 1000 / s.fps,
			Width:       s.width,
			Height:      s.height,
			Gray:        gray,
			RGB:         rgb,
		}, nil
	}
}

// Grayscale converts a packed rgb24 frame to 8-bit luma.
func Grayscale(rgb []uint8, width, height int) ([]uint8, error) {
	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, rgb)
	if err != nil {
		return nil, fmt.Errorf("frame to mat: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)

	return gray.ToBytes(), nil
}
