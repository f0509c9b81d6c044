// Package compare decides whether a sampled frame shows a new slide.
//
// A Method compares two grey buffers of equal size. Three methods exist:
// pixel difference ratio, structural dissimilarity, and a cascade that only
// computes the structural score when the pixel stage did not trigger.
// Detector threads the previous frame through a sequence of comparisons.
package compare

import (
	"fmt"
	"strings"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// Kind names a comparison method in configuration.
type Kind string

const (
	KindPixelDiff Kind = "pixel_diff"
	KindSSIM      Kind = "ssim"
	KindCascade   Kind = "cascade"
)

// ParseKind accepts the canonical names and the upper-case METHOD_* aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(strings.ToUpper(s)), "METHOD_")) {
	case "pixel_diff":
		return KindPixelDiff, nil
	case "ssim":
		return KindSSIM, nil
	case "cascade":
		return KindCascade, nil
	}
	return "", fmt.Errorf("unknown comparison method %q (want pixel_diff, ssim or cascade)", s)
}

// Thresholds carries the numeric knobs of every method.
type Thresholds struct {
	Pixel    float64 // changed-pixel fraction above which a frame is new
	Binarize uint8   // fixed intensity cut, 0 selects Otsu
	SSIM     float64 // dissimilarity above which a frame is new
}

// Method compares the previous and current frame.
type Method interface {
	Kind() Kind
	Compare(prev, cur *models.SampledFrame) models.ComparisonResult
}

// New returns the Method for kind.
func New(kind Kind, th Thresholds) (Method, error) {
	pixel := PixelDiff{Threshold: th.Pixel, Binarize: th.Binarize}
	structural := Structural{Threshold: th.SSIM}
	switch kind {
	case KindPixelDiff:
		return pixel, nil
	case KindSSIM:
		return structural, nil
	case KindCascade:
		return Cascade{Pixel: pixel, Structural: structural}, nil
	}
	return nil, fmt.Errorf("unknown comparison method %q", kind)
}

// PixelDiff flags a change when the fraction of differing pixels exceeds Threshold.
type PixelDiff struct {
	Threshold float64
	Binarize  uint8
}

func (PixelDiff) Kind() Kind { return KindPixelDiff }

func (p PixelDiff) Compare(prev, cur *models.SampledFrame) models.ComparisonResult {
	var res models.ComparisonResult
	p.apply(prev, cur, &res)
	res.Diagnostic = diagnostic(res, p.Binarize == 0)
	return res
}

func (p PixelDiff) apply(prev, cur *models.SampledFrame, res *models.ComparisonResult) {
	ratio, cut := PixelDiffRatio(prev.Gray, cur.Gray, p.Binarize)
	res.PixelEvaluated = true
	res.PixelRatio = ratio
	res.BinarizeThreshold = float64(cut)
	if ratio > p.Threshold {
		res.Changed = true
	}
}

// Structural flags a change when 1 - SSIM exceeds Threshold.
type Structural struct {
	Threshold float64
}

func (Structural) Kind() Kind { return KindSSIM }

func (s Structural) Compare(prev, cur *models.SampledFrame) models.ComparisonResult {
	var res models.ComparisonResult
	s.apply(prev, cur, &res)
	res.Diagnostic = diagnostic(res, false)
	return res
}

func (s Structural) apply(prev, cur *models.SampledFrame, res *models.ComparisonResult) {
	res.SSIMEvaluated = true
	res.SSIMDiff = 1 - SSIM(prev.Gray, cur.Gray, cur.Width, cur.Height)
	if res.SSIMDiff > s.Threshold {
		res.Changed = true
	}
}

// Cascade runs the pixel stage first and the structural stage only when the
// pixel stage did not trigger.
type Cascade struct {
	Pixel      PixelDiff
	Structural Structural
}

func (Cascade) Kind() Kind { return KindCascade }

func (c Cascade) Compare(prev, cur *models.SampledFrame) models.ComparisonResult {
	var res models.ComparisonResult
	c.Pixel.apply(prev, cur, &res)
	if !res.Changed {
		c.Structural.apply(prev, cur, &res)
	}
	res.Diagnostic = diagnostic(res, c.Pixel.Binarize == 0)
	return res
}

func diagnostic(res models.ComparisonResult, otsu bool) string {
	var parts []string
	if res.PixelEvaluated {
		label := "thresh"
		if otsu {
			label = "otsu"
		}
		parts = append(parts, fmt.Sprintf("PIXEL_DIFF: %.6f / %s: %.1f", res.PixelRatio, label, res.BinarizeThreshold))
	}
	if res.SSIMEvaluated {
		parts = append(parts, fmt.Sprintf("SSIM_DIFF: %.6f", res.SSIMDiff))
	}
	return strings.Join(parts, " | ")
}
