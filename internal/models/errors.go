package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when the configuration is missing, unreadable or incomplete.
	ErrConfiguration = errors.New("configuration error")

	// ErrInputDirectory is returned when the configured input directory does not exist.
	ErrInputDirectory = errors.New("input directory error")

	// ErrFrameRateUnknown is recorded, never returned as fatal, when a video
	// reports no frame rate and the fallback rate is used.
	ErrFrameRateUnknown = errors.New("frame rate unknown")
)

// VideoOpenError indicates a video that could not be opened or decoded.
//
// The underlying error can be accessed via errors.Unwrap.
type VideoOpenError struct {
	Path  string
	cause error
}

// NewVideoOpenError wraps cause for the video at path.
func NewVideoOpenError(path string, cause error) *VideoOpenError {
	return &VideoOpenError{Path: path, cause: cause}
}

func (e *VideoOpenError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("cannot open video %q", e.Path)
	}
	return fmt.Sprintf("cannot open video %q: %v", e.Path, e.cause)
}

func (e *VideoOpenError) Unwrap() error { return e.cause }

// ResolutionTooSmallError indicates frames at or below the similarity-window floor.
type ResolutionTooSmallError struct {
	Path   string
	Width  int
	Height int
}

func (e *ResolutionTooSmallError) Error() string {
	return fmt.Sprintf("video %q is %dx%d, both dimensions must exceed %d",
		e.Path, e.Width, e.Height, MinFrameDimension)
}

// ImageDecodeError indicates a persisted image that could not be decoded again.
type ImageDecodeError struct {
	Path  string
	cause error
}

// NewImageDecodeError wraps cause for the image at path.
func NewImageDecodeError(path string, cause error) *ImageDecodeError {
	return &ImageDecodeError{Path: path, cause: cause}
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("cannot decode image %q: %v", e.Path, e.cause)
}

func (e *ImageDecodeError) Unwrap() error { return e.cause }

// CheckResolution validates a VideoSource against the similarity-window floor.
func CheckResolution(src VideoSource) error {
	if src.Width <= MinFrameDimension || src.Height <= MinFrameDimension {
		return &ResolutionTooSmallError{Path: src.Path, Width: src.Width, Height: src.Height}
	}
	return nil
}
