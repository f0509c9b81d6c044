package models

// MinFrameDimension is the similarity-window floor. A video must be strictly
// larger than this in both dimensions.
const MinFrameDimension = 7

// NoiseLabel marks a slide that belongs to no cluster.
const NoiseLabel = -1

// VideoSource holds the immutable per-video facts reported by the decoder
type VideoSource struct {
	Path       string
	Name       string // file name without extension
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int // 0 when the container does not report it

	// FrameRateFallback is set when the container reported no frame rate
	// and FrameRate holds the substituted default.
	FrameRateFallback bool
}

// SampledFrame is a frame that landed on a sampling boundary
type SampledFrame struct {
	Index       int     // 0-based position in the decoded stream
	TimestampMs float64 // playback position of the frame
	Width       int
	Height      int
	Gray        []uint8 // Width*Height luma samples
	RGB         []uint8 // Width*Height*3 packed rgb24, used when the frame is saved
}

// ComparisonResult is the outcome of comparing a sampled frame to the baseline
type ComparisonResult struct {
	Changed bool

	PixelEvaluated bool
	PixelRatio     float64
	// BinarizeThreshold is the intensity cut actually applied to the diff
	// (the Otsu result when automatic binarisation is configured).
	BinarizeThreshold float64

	SSIMEvaluated bool
	SSIMDiff      float64

	Diagnostic string
}

// SavedSlide is an image persisted by the slide writer
type SavedSlide struct {
	Seq   int
	Label string // HHh-MMm-SSs
	Path  string
}

// SimilarityFeature is the normalised grey-level histogram of a saved slide
type SimilarityFeature []float64

// WorkItem represents an image queued for feature extraction
type WorkItem struct {
	ImagePath string
	Index     int
	Total     int
}

// FeatureResult represents the feature computed for one image
type FeatureResult struct {
	ImagePath string
	Index     int
	Feature   SimilarityFeature
	Err       error
}

// Cluster is a group of slides whose features are mutually close
type Cluster struct {
	Label   int
	Members []string
}

// Assignment is the clustering outcome of one image. Path is where the image
// lives after relocation.
type Assignment struct {
	Path    string
	Label   int
	Feature SimilarityFeature
}

// GroupingReport summarises one deduplication pass over a directory
type GroupingReport struct {
	Dir         string
	Scanned     int
	Skipped     []string // images that failed to decode
	Clusters    []Cluster
	Noise       []string
	Assignments []Assignment
}

// VideoReport summarises the processing of one video
type VideoReport struct {
	Source      VideoSource
	OutputDir   string
	Sampled     int
	Comparisons int
	Slides      []SavedSlide
	Grouping    *GroupingReport
	Err         error
}
