package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// New returns a progress bar rendering to w. A nil w gives a silent bar, so
// callers can update it unconditionally. max of -1 renders a spinner.
func New(max int, description string, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(w != io.Discard),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(w, "\n")
		}),
	)
}
