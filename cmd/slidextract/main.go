package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/androcom/invideo-ppt-to-png/internal/analyzer"
	"github.com/androcom/invideo-ppt-to-png/internal/compare"
	"github.com/androcom/invideo-ppt-to-png/internal/config"
	"github.com/androcom/invideo-ppt-to-png/internal/embeddings"
	"github.com/androcom/invideo-ppt-to-png/internal/extractor"
	"github.com/androcom/invideo-ppt-to-png/internal/grouping"
	"github.com/androcom/invideo-ppt-to-png/internal/metrics"
	"github.com/androcom/invideo-ppt-to-png/internal/models"
	"github.com/androcom/invideo-ppt-to-png/internal/storage"
)

var version = "dev"

var (
	configPath  string
	logLevel    string
	groupEps    float64
	groupMin    int
	databaseURL string
	similarMax  int
)

var rootCmd = &cobra.Command{
	Use:           "slidextract",
	Short:         "Extract presentation slides from screen recordings",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract slides from every video in the input directory",
	Args:  cobra.NoArgs,
	RunE:  runExtract,
}

var groupCmd = &cobra.Command{
	Use:   "group DIR",
	Short: "Move similar slides of an existing folder into Group_N folders",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroup,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var similarCmd = &cobra.Command{
	Use:   "similar IMAGE",
	Short: "Find catalogued slides that look like IMAGE",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "slidextract", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "console log level (debug, info, warn, error)")

	groupCmd.Flags().Float64Var(&groupEps, "eps", grouping.DefaultEps, "maximum correlation distance between neighbours")
	groupCmd.Flags().IntVar(&groupMin, "min-samples", grouping.DefaultMinSamples, "neighbours needed to form a cluster")
	groupCmd.Flags().StringVar(&databaseURL, "database-url", "", "catalog database (overrides the configuration)")

	similarCmd.Flags().StringVar(&databaseURL, "database-url", "", "catalog database (overrides the configuration)")
	similarCmd.Flags().IntVarP(&similarMax, "limit", "n", 5, "number of matches")

	rootCmd.AddCommand(runCmd, groupCmd, initCmd, similarCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: "15:04:05",
		}),
	)
}

func consoleLevel(cfg *config.Config) string {
	if logLevel != "" {
		return logLevel
	}
	if cfg != nil && cfg.LogLevel != "" {
		return cfg.LogLevel
	}
	return config.DefaultLogLevel
}

// loadOptionalConfig returns nil when no configuration file exists
func loadOptionalConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return config.Load(configPath)
}

func openCatalog(ctx context.Context, url string, runID uuid.UUID, logger *slog.Logger) (storage.Catalog, error) {
	if url == "" {
		return storage.NopCatalog{}, nil
	}
	catalog, err := storage.NewPostgresCatalog(ctx, url, runID)
	if err != nil {
		return nil, err
	}
	logger.Info("slide catalog connected")
	return catalog, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	runID := uuid.New()
	logger := newLogger(cmd.ErrOrStderr(), consoleLevel(cfg)).With(slog.String("run", runID.String()))

	kind, err := compare.ParseKind(cfg.Comparison.Method)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}
	method, err := compare.New(kind, cfg.Thresholds())
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}
	format, err := storage.ParseImageFormat(cfg.Output.ImageFormat)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}

	catalog, err := openCatalog(ctx, cfg.Catalog.DatabaseURL, runID, logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	opts := analyzer.Options{
		Sampling: extractor.SamplingConfig{
			IntervalSeconds: cfg.Sampling.IntervalSeconds,
			FrameInterval:   cfg.Sampling.FrameInterval,
		},
		Writer: storage.WriterOptions{Format: format, JPEGQuality: cfg.Output.JPEGQuality},
	}
	if cfg.Progress {
		opts.Progress = cmd.ErrOrStderr()
	}

	var grouper *grouping.Grouper
	if cfg.Grouping.Enabled {
		features := embeddings.NewService(cfg.Workers)
		defer features.Close()
		grouper = grouping.NewGrouper(features, logger)
		opts.Grouping = &grouping.Options{Eps: cfg.Grouping.Eps, MinSamples: cfg.Grouping.MinSamples}
	}

	recorder := metrics.New()
	processor := analyzer.NewProcessor(extractor.NewFFmpegDecoder(), method, grouper, catalog, recorder, logger, opts)

	report, err := processor.ProcessBatch(ctx, analyzer.BatchOptions{
		InputDir:        cfg.InputDir,
		OutputDir:       cfg.OutputDir,
		VideoExtensions: cfg.VideoExtensions,
		Workers:         cfg.Workers,
		RunID:           runID,
	})
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), report)

	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics not written", slog.Any("error", err))
		}
	}
	return nil
}

func printSummary(w io.Writer, report *analyzer.BatchReport) {
	if len(report.Videos) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tSLIDES\tGROUPS\tSTATUS")
	for _, v := range report.Videos {
		groups := "-"
		if v.Grouping != nil {
			groups = fmt.Sprint(len(v.Grouping.Clusters))
		}
		status := "ok"
		if v.Err != nil {
			status = v.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", v.Source.Name, len(v.Slides), groups, status)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d videos, %d slides, %d failed\n", len(report.Videos), report.Slides(), report.Failed())
}

func runGroup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]

	cfg, err := loadOptionalConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), consoleLevel(cfg))

	features := embeddings.NewService(0)
	defer features.Close()

	report, err := grouping.NewGrouper(features, logger).Group(ctx, dir, grouping.Options{
		Eps:        groupEps,
		MinSamples: groupMin,
		Progress:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d images, %d groups, %d ungrouped, %d skipped\n",
		report.Scanned, len(report.Clusters), len(report.Noise), len(report.Skipped))

	url := databaseURL
	if url == "" && cfg != nil {
		url = cfg.Catalog.DatabaseURL
	}
	if url == "" {
		return nil
	}
	catalog, err := openCatalog(ctx, url, uuid.New(), logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	name := strings.TrimSuffix(filepath.Base(filepath.Clean(dir)), "_slides")
	video := models.VideoSource{Path: dir, Name: name}
	return catalog.RecordSlides(ctx, video, storage.EntriesFromGrouping(report))
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.Save(config.DefaultConfig(), configPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(cmd.OutOrStdout(), "Config already exists: %s\n", configPath)
			return nil
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config: %s\n", configPath)
	return nil
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadOptionalConfig()
	if err != nil {
		return err
	}
	url := databaseURL
	if url == "" && cfg != nil {
		url = cfg.Catalog.DatabaseURL
	}
	if url == "" {
		return fmt.Errorf("%w: no catalog database configured", models.ErrConfiguration)
	}

	feature, err := embeddings.FeatureFromFile(args[0])
	if err != nil {
		return err
	}

	catalog, err := storage.NewPostgresCatalog(ctx, url, uuid.Nil)
	if err != nil {
		return err
	}
	defer catalog.Close()

	matches, err := catalog.SearchSimilar(ctx, feature, similarMax)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTANCE\tVIDEO\tSLIDE\tGROUP\tPATH")
	for _, m := range matches {
		group := "-"
		if m.Group != models.NoiseLabel {
			group = fmt.Sprint(m.Group)
		}
		fmt.Fprintf(tw, "%.4f\t%s\t%03d %s\t%s\t%s\n", m.Distance, m.Video, m.Seq, m.Label, group, m.Path)
	}
	return tw.Flush()
}
