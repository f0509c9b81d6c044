package compare

import "github.com/androcom/invideo-ppt-to-png/internal/models"

// Detector holds the previous sampled frame and compares each new frame to it.
type Detector struct {
	method   Method
	baseline *models.SampledFrame
}

// NewDetector returns a Detector with no baseline.
func NewDetector(method Method) *Detector {
	return &Detector{method: method}
}

// Observe compares frame to the baseline and makes it the new baseline.
// The first frame only becomes the baseline and ok is false.
func (d *Detector) Observe(frame *models.SampledFrame) (res models.ComparisonResult, ok bool) {
	prev := d.baseline
	d.baseline = &models.SampledFrame{
		Index:       frame.Index,
		TimestampMs: frame.TimestampMs,
		Width:       frame.Width,
		Height:      frame.Height,
		Gray:        frame.Gray,
	}
	if prev == nil {
		return res, false
	}
	return d.method.Compare(prev, frame), true
}

// Method returns the comparison strategy in use.
func (d *Detector) Method() Method { return d.method }
