package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// Stream delivers the decoded frames of one video in playback order
type Stream interface {
	// Source returns the facts reported for the video
	Source() models.VideoSource

	// ReadFrame fills buf with the next packed rgb24 frame. It returns io.EOF
	// after the last frame.
	ReadFrame(buf []byte) error

	// Close releases the decoder
	Close() error
}

// Decoder opens videos for frame-by-frame reading
type Decoder interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// FFmpegDecoder decodes videos by piping raw frames out of ffmpeg
type FFmpegDecoder struct{}

// NewFFmpegDecoder creates a decoder backed by the ffmpeg and ffprobe binaries
func NewFFmpegDecoder() *FFmpegDecoder {
	return &FFmpegDecoder{}
}

type probeResult struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Open probes the video and prepares a frame stream. Decoding starts on the
// first ReadFrame call.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, models.NewVideoOpenError(path, err)
	}

	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, models.NewVideoOpenError(path, fmt.Errorf("ffprobe: %w", err))
	}
	src, err := parseProbe(path, raw)
	if err != nil {
		return nil, models.NewVideoOpenError(path, err)
	}

	return &ffmpegStream{ctx: ctx, src: src}, nil
}

func parseProbe(path, raw string) (models.VideoSource, error) {
	var probe probeResult
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return models.VideoSource{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		fps := parseRate(s.AvgFrameRate)
		if fps == 0 {
			fps = parseRate(s.RFrameRate)
		}
		frames, _ := strconv.Atoi(s.NbFrames)
		if frames == 0 && fps > 0 {
			if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
				frames = int(dur * fps)
			}
		}
		return models.VideoSource{
			Path:       path,
			Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Width:      s.Width,
			Height:     s.Height,
			FrameRate:  fps,
			FrameCount: frames,
		}, nil
	}
	return models.VideoSource{}, fmt.Errorf("no video stream in %q", path)
}

// parseRate parses ffprobe rates such as "30000/1001". Unknown rates yield 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	dv, err := strconv.ParseFloat(den, 64)
	if err != nil || dv == 0 {
		return 0
	}
	return n / dv
}

type ffmpegStream struct {
	ctx context.Context
	src models.VideoSource

	once   sync.Once
	reader *io.PipeReader
	done   chan error
	stderr bytes.Buffer
}

func (s *ffmpegStream) Source() models.VideoSource { return s.src }

// decodeArgs builds the ffmpeg invocation. Auto-rotation stays off so frames
// keep the coded width and height reported by ffprobe.
func decodeArgs(path string) *ffmpeg.Stream {
	return ffmpeg.Input(path, ffmpeg.KwArgs{"noautorotate": ""}).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"})
}

func (s *ffmpegStream) start() {
	pr, pw := io.Pipe()
	s.reader = pr
	s.done = make(chan error, 1)

	go func() {
		err := s.run(pw)
		if err != nil {
			err = fmt.Errorf("ffmpeg error: %w, output: %s", err, lastLine(s.stderr.String()))
		}
		pw.CloseWithError(err)
		s.done <- err
	}()
}

func (s *ffmpegStream) run(out io.Writer) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	cmd := decodeArgs(s.src.Path).
		WithOutput(out).
		WithErrorOutput(&s.stderr).
		Compile()
	if err := cmd.Start(); err != nil {
		return err
	}
	stop := context.AfterFunc(s.ctx, func() { _ = cmd.Process.Kill() })
	err := cmd.Wait()
	if !stop() {
		return s.ctx.Err()
	}
	return err
}

func (s *ffmpegStream) ReadFrame(buf []byte) error {
	s.once.Do(s.start)
	if want := s.src.Width * s.src.Height * 3; len(buf) != want {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(buf), want)
	}
	_, err := io.ReadFull(s.reader, buf)
	switch err {
	case nil, io.EOF:
		return err
	case io.ErrUnexpectedEOF:
		return fmt.Errorf("truncated frame in %q", s.src.Path)
	}
	return err
}

func (s *ffmpegStream) Close() error {
	if s.reader == nil {
		return nil
	}
	// a still-running ffmpeg fails its next write once the read side is
	// closed; decode errors already surfaced through ReadFrame
	s.reader.Close()
	<-s.done
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
