package models

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckResolution(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		wantErr bool
	}{
		{"6x6", 6, 6, true},
		{"7x7", 7, 7, true},
		{"8x8", 8, 8, false},
		{"wide but short", 1920, 7, true},
		{"narrow but tall", 7, 1080, true},
		{"64x64", 64, 64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResolution(VideoSource{Path: "v.mp4", Width: tt.w, Height: tt.h})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var rerr *ResolutionTooSmallError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.w, rerr.Width)
			assert.Equal(t, tt.h, rerr.Height)
		})
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	openErr := NewVideoOpenError("a.mp4", io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(openErr, io.ErrUnexpectedEOF))
	assert.Contains(t, openErr.Error(), "a.mp4")

	decErr := NewImageDecodeError("x.png", io.EOF)
	assert.True(t, errors.Is(decErr, io.EOF))
	assert.Contains(t, decErr.Error(), "x.png")
}
