package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/androcom/invideo-ppt-to-png/internal/compare"
	"github.com/androcom/invideo-ppt-to-png/internal/grouping"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
	"github.com/androcom/invideo-ppt-to-png/internal/storage"
)

const (
	DefaultPath            = "slidextract.yaml"
	EnvPrefix              = "SLIDES_"
	DefaultOutputDir       = "extracted_slides"
	DefaultInterval        = 1.0
	DefaultPixelThreshold  = 0.005
	DefaultSSIMThreshold   = 0.05
	DefaultJPEGQuality     = 95
	DefaultWorkers         = 1
	DefaultLogLevel        = "info"
	DefaultComparisonKind  = compare.KindCascade
	DefaultOutputExtension = "png"
)

// Config is the run configuration, read from YAML and overridden by
// SLIDES_-prefixed environment variables.
type Config struct {
	InputDir        string           `yaml:"input_dir" env:"INPUT_DIR"`
	OutputDir       string           `yaml:"output_dir" env:"OUTPUT_DIR"`
	VideoExtensions []string         `yaml:"video_extensions" env:"VIDEO_EXTENSIONS" envSeparator:","`
	Sampling        SamplingConfig   `yaml:"sampling" envPrefix:"SAMPLING_"`
	Comparison      ComparisonConfig `yaml:"comparison" envPrefix:"COMPARISON_"`
	Grouping        GroupingConfig   `yaml:"grouping" envPrefix:"GROUPING_"`
	Output          OutputConfig     `yaml:"output" envPrefix:"OUTPUT_"`
	Workers         int              `yaml:"workers" env:"WORKERS"`
	Progress        bool             `yaml:"progress" env:"PROGRESS"`
	LogLevel        string           `yaml:"log_level" env:"LOG_LEVEL"`
	Catalog         CatalogConfig    `yaml:"catalog" envPrefix:"CATALOG_"`
	Metrics         MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
}

// SamplingConfig selects how often frames are compared. FrameInterval,
// when positive, takes precedence over IntervalSeconds.
type SamplingConfig struct {
	IntervalSeconds float64 `yaml:"interval_seconds" env:"INTERVAL_SECONDS"`
	FrameInterval   int     `yaml:"frame_interval" env:"FRAME_INTERVAL"`
}

// ComparisonConfig picks the change detector and its thresholds
type ComparisonConfig struct {
	Method            string  `yaml:"method" env:"METHOD"`
	PixelThreshold    float64 `yaml:"pixel_threshold" env:"PIXEL_THRESHOLD"`
	BinarizeThreshold int     `yaml:"binarize_threshold" env:"BINARIZE_THRESHOLD"` // 0 = Otsu
	SSIMThreshold     float64 `yaml:"ssim_threshold" env:"SSIM_THRESHOLD"`
}

// GroupingConfig controls the per-video deduplication pass
type GroupingConfig struct {
	Enabled    bool    `yaml:"enabled" env:"ENABLED"`
	Eps        float64 `yaml:"eps" env:"EPS"`
	MinSamples int     `yaml:"min_samples" env:"MIN_SAMPLES"`
}

// OutputConfig sets the image encoding of saved slides
type OutputConfig struct {
	ImageFormat string `yaml:"image_format" env:"IMAGE_FORMAT"`
	JPEGQuality int    `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
}

// CatalogConfig points at the optional Postgres slide catalog; an empty
// URL disables it.
type CatalogConfig struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
}

// MetricsConfig names the Prometheus textfile written after a run
type MetricsConfig struct {
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
}

// DefaultConfig returns the configuration written by `slidextract init`
func DefaultConfig() *Config {
	return &Config{
		InputDir:        "INPUT",
		OutputDir:       DefaultOutputDir,
		VideoExtensions: []string{".mp4", ".mov", ".avi", ".mkv"},
		Sampling: SamplingConfig{
			IntervalSeconds: DefaultInterval,
		},
		Comparison: ComparisonConfig{
			Method:         string(DefaultComparisonKind),
			PixelThreshold: DefaultPixelThreshold,
			SSIMThreshold:  DefaultSSIMThreshold,
		},
		Grouping: GroupingConfig{
			Enabled:    true,
			Eps:        grouping.DefaultEps,
			MinSamples: grouping.DefaultMinSamples,
		},
		Output: OutputConfig{
			ImageFormat: DefaultOutputExtension,
			JPEGQuality: DefaultJPEGQuality,
		},
		Workers:  DefaultWorkers,
		Progress: true,
		LogLevel: DefaultLogLevel,
	}
}

// requiredKey is a configuration key that must be present either in the
// file or in the environment
type requiredKey struct {
	path []string
	env  string
	when func(c *Config) bool
}

func always(*Config) bool { return true }

func usesStage(kinds ...compare.Kind) func(c *Config) bool {
	return func(c *Config) bool {
		kind, err := compare.ParseKind(c.Comparison.Method)
		if err != nil {
			return false
		}
		for _, k := range kinds {
			if kind == k {
				return true
			}
		}
		return false
	}
}

var requiredKeys = []requiredKey{
	{path: []string{"input_dir"}, env: "INPUT_DIR", when: always},
	{path: []string{"output_dir"}, env: "OUTPUT_DIR", when: always},
	{path: []string{"video_extensions"}, env: "VIDEO_EXTENSIONS", when: always},
	{path: []string{"comparison", "method"}, env: "COMPARISON_METHOD", when: always},
	{path: []string{"sampling", "interval_seconds"}, env: "SAMPLING_INTERVAL_SECONDS", when: func(c *Config) bool {
		return c.Sampling.FrameInterval <= 0
	}},
	{path: []string{"comparison", "pixel_threshold"}, env: "COMPARISON_PIXEL_THRESHOLD",
		when: usesStage(compare.KindPixelDiff, compare.KindCascade)},
	{path: []string{"comparison", "ssim_threshold"}, env: "COMPARISON_SSIM_THRESHOLD",
		when: usesStage(compare.KindSSIM, compare.KindCascade)},
}

// Load reads the YAML file at path, applies SLIDES_* environment overrides and
// validates the result. Every error wraps models.ErrConfiguration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", models.ErrConfiguration, err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", models.ErrConfiguration, err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse config: %w", models.ErrConfiguration, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", models.ErrConfiguration, err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if !key.when(cfg) {
			continue
		}
		if _, ok := os.LookupEnv(EnvPrefix + key.env); ok {
			continue
		}
		if !hasKey(raw, key.path) {
			missing = append(missing, strings.Join(key.path, "."))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required keys: %s", models.ErrConfiguration, strings.Join(missing, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasKey(raw map[string]any, path []string) bool {
	node := raw
	for i, key := range path {
		v, ok := node[key]
		if !ok || v == nil {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		if node, ok = v.(map[string]any); !ok {
			return false
		}
	}
	return false
}

// Validate checks value ranges and the method and format names
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.InputDir) == "" {
		problems = append(problems, "input_dir is empty")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		problems = append(problems, "output_dir is empty")
	}
	if len(c.VideoExtensions) == 0 {
		problems = append(problems, "video_extensions is empty")
	}
	if c.Sampling.FrameInterval < 0 {
		problems = append(problems, "sampling.frame_interval must not be negative")
	}
	if c.Sampling.FrameInterval == 0 && c.Sampling.IntervalSeconds <= 0 {
		problems = append(problems, "sampling.interval_seconds must be positive")
	}
	if _, err := compare.ParseKind(c.Comparison.Method); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Comparison.PixelThreshold < 0 || c.Comparison.PixelThreshold > 1 {
		problems = append(problems, "comparison.pixel_threshold must be within [0, 1]")
	}
	if c.Comparison.SSIMThreshold < 0 || c.Comparison.SSIMThreshold > 1 {
		problems = append(problems, "comparison.ssim_threshold must be within [0, 1]")
	}
	if c.Comparison.BinarizeThreshold < 0 || c.Comparison.BinarizeThreshold > 255 {
		problems = append(problems, "comparison.binarize_threshold must be within [0, 255]")
	}
	if c.Grouping.Eps <= 0 {
		problems = append(problems, "grouping.eps must be positive")
	}
	if c.Grouping.MinSamples < 1 {
		problems = append(problems, "grouping.min_samples must be at least 1")
	}
	if _, err := storage.ParseImageFormat(c.Output.ImageFormat); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		problems = append(problems, "output.jpeg_quality must be within [1, 100]")
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Thresholds returns the comparison settings in the form compare.New expects
func (c *Config) Thresholds() compare.Thresholds {
	return compare.Thresholds{
		Pixel:    c.Comparison.PixelThreshold,
		Binarize: uint8(c.Comparison.BinarizeThreshold),
		SSIM:     c.Comparison.SSIMThreshold,
	}
}

// Save writes cfg as YAML, refusing to overwrite an existing file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return file.Close()
}
