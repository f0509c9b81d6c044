// Package extractortest provides an in-memory decoder for tests.
package extractortest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/androcom/invideo-ppt-to-png/internal/extractor"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// Video describes a synthetic video. Fill paints frame index into buf
// (packed rgb24); a nil Fill leaves every frame black.
type Video struct {
	Width     int
	Height    int
	FrameRate float64
	Frames    int
	Fill      func(index int, buf []byte)

	// FailAfter, when positive, makes ReadFrame fail once that many frames were read
	FailAfter int

	// Unreadable makes every ReadFrame fail, as for a container whose
	// header probes fine but whose stream cannot be decoded
	Unreadable bool
}

// Decoder serves Videos by path
type Decoder struct {
	Videos map[string]*Video

	mu     sync.Mutex
	opened []string
}

// Opened returns every path passed to Open, in call order
func (d *Decoder) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

// Open implements extractor.Decoder.
func (d *Decoder) Open(_ context.Context, path string) (extractor.Stream, error) {
	d.mu.Lock()
	d.opened = append(d.opened, path)
	d.mu.Unlock()
	v, ok := d.Videos[path]
	if !ok {
		return nil, models.NewVideoOpenError(path, fmt.Errorf("no such synthetic video"))
	}
	return &stream{
		video: v,
		src: models.VideoSource{
			Path:       path,
			Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Width:      v.Width,
			Height:     v.Height,
			FrameRate:  v.FrameRate,
			FrameCount: v.Frames,
		},
	}, nil
}

type stream struct {
	video  *Video
	src    models.VideoSource
	next   int
	closed bool
}

func (s *stream) Source() models.VideoSource { return s.src }

func (s *stream) ReadFrame(buf []byte) error {
	if s.closed {
		return io.ErrClosedPipe
	}
	if s.video.Unreadable || (s.video.FailAfter > 0 && s.next >= s.video.FailAfter) {
		return fmt.Errorf("synthetic decode failure at frame %d", s.next)
	}
	if s.next >= s.video.Frames {
		return io.EOF
	}
	if s.video.Fill != nil {
		s.video.Fill(s.next, buf)
	} else {
		clear(buf)
	}
	s.next++
	return nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

// Solid paints every pixel of buf with one grey level.
func Solid(buf []byte, level uint8) {
	for i := range buf {
		buf[i] = level
	}
}

// SwitchAt returns a Fill that paints before until frame index at, then after.
func SwitchAt(at int, before, after uint8) func(int, []byte) {
	return func(index int, buf []byte) {
		if index < at {
			Solid(buf, before)
			return
		}
		Solid(buf, after)
	}
}
