package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"webp-shrink/internal/compressor"
	"webp-shrink/internal/config"
	"webp-shrink/internal/converter"
	"webp-shrink/internal/dialog"
	"webp-shrink/internal/extractor"
	"webp-shrink/internal/logger"
	"webp-shrink/internal/output"
	"webp-shrink/internal/saver"
	"webp-shrink/internal/watcher"
	"webp-shrink/internal/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	targetSizeKB float64
	minQuality   int
	maxQuality   int
	maxDimension int
	workers      int
	outputDir    string
	overwrite    bool
	reportFormat string
	useExiftool  bool
	port         int
	version      = "dev"
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "webp-shrink [files or directories...]",
	Short: "Convert JPEG and PNG images to WebP under a target size",
	Long: `webp-shrink converts JPEG and PNG images to lossy WebP, picking for each
image the highest quality whose output fits a target size in kilobytes.

Quality is searched from the maximum downwards in steps of 5. When even the
minimum quality is too large, the smallest candidate is kept and reported as
over target.`,
	Version: version,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args)
	},
}

// convertCmd is an explicit alias for the root action.
var convertCmd = &cobra.Command{
	Use:   "convert <files or directories...>",
	Short: "Convert images and save the WebP results",
	Long: `Converts every selected image, prints one line per file and the batch
totals, then saves the results into --output or asks where to put them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args)
	},
}

// inspectCmd shows metadata of a source image.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show dimensions, format and EXIF metadata of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP conversion API",
	Long: `Starts an HTTP server exposing file listing, conversion, download and
save endpoints under /api, live progress on /ws and Prometheus metrics on
/metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// watchCmd converts images dropped into a folder.
var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Convert images as they are added to a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().Float64Var(&targetSizeKB, "target", 0, "target size per image in KB")
	rootCmd.PersistentFlags().IntVar(&minQuality, "min-quality", 0, "lowest WebP quality to try")
	rootCmd.PersistentFlags().IntVar(&maxQuality, "max-quality", 0, "highest WebP quality to try")
	rootCmd.PersistentFlags().IntVar(&maxDimension, "max-dimension", 0, "downscale images whose longer side exceeds this many pixels")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of files converted in parallel")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "directory to save converted files into")
	rootCmd.PersistentFlags().BoolVar(&overwrite, "overwrite", false, "replace existing files instead of adding a _N suffix")

	for _, cmd := range []*cobra.Command{rootCmd, convertCmd} {
		cmd.Flags().StringVar(&reportFormat, "report", "", "print a report: table, json or yaml")
	}
	inspectCmd.Flags().StringVar(&reportFormat, "format", "", "output format: json or yaml")
	inspectCmd.Flags().BoolVar(&useExiftool, "exiftool", false, "fall back to the exiftool binary for metadata")
	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

// runConvert converts the selected images, prints the results and saves them.
func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	fs := afero.NewOsFs()
	printer := output.NewReportPrinter(reportFormat, os.Stdout, os.Stderr, output.ResolveColors(), quiet)

	files, err := converter.CollectImageFiles(fs, args, cfg.Conversion.SupportedExtensions)
	if err != nil {
		return fmt.Errorf("failed to collect images: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no JPEG or PNG images found")
	}

	conv := converter.NewConverterWithProgress(cfg, fs, log, newCompressor(cfg), func(p converter.Progress) {
		printer.Outcome(p.Outcome)
	})

	state := conv.Convert(converter.NewBatchState(files, conv.DefaultParams()))
	printer.BatchSummary(state)

	if reportFormat != "" {
		if err := output.WriteReport(os.Stdout, state, reportFormat); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if len(state.Successful()) > 0 {
		if err := saveBatch(cfg, log, fs, printer, state); err != nil {
			return err
		}
	}

	if len(state.Failed()) > 0 {
		log.Debug(state.Stats.GetErrorSummary())
	}
	return nil
}

// saveBatch writes converted files to the configured directory, or asks the
// user what to do when none is set.
func saveBatch(cfg *config.Config, log *logrus.Logger, fs afero.Fs, printer *output.Printer, state converter.BatchState) error {
	sv := saver.NewSaver(fs, log, cfg.Output.Overwrite)

	if cfg.Output.Directory != "" {
		res, err := sv.SaveAll(state, cfg.Output.Directory, nil)
		if err != nil {
			return fmt.Errorf("failed to save files: %w", err)
		}
		printer.SaveAllResult(res)
		return nil
	}
	if quiet {
		return nil
	}

	cwd, _ := os.Getwd()
	dlg := dialog.NewPromptDialog(cwd)
	if output.IsMachineReadable(reportFormat) {
		dlg.Stdout = os.Stderr
	}
	mode, err := dlg.ChooseSaveMode(len(state.Successful()))
	if err != nil {
		if errors.Is(err, saver.ErrUserCanceled) {
			printer.Info("Saving canceled")
			return nil
		}
		printer.Warning("Not saving: %v", err)
		return nil
	}

	switch mode {
	case dialog.SaveAllToFolder:
		res, err := sv.SaveAll(state, "", dlg)
		if err != nil {
			return fmt.Errorf("failed to save files: %w", err)
		}
		printer.SaveAllResult(res)
	case dialog.SaveEachFile:
		for _, out := range state.Successful() {
			res, err := sv.SaveOne(out, dlg)
			switch {
			case res.Canceled:
				printer.Info("Skipped %s", out.OriginalName)
			case err != nil:
				printer.Error("%s: %v", out.OriginalName, err)
			default:
				printer.Success("%s → %s", out.OriginalName, res.Path)
			}
		}
	case dialog.SkipSaving:
		printer.Info("Converted files were not saved")
	}
	return nil
}

// runInspect prints the metadata of a single image.
func runInspect(cmd *cobra.Command, filePath string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	ext := extractor.NewEXIFExtractor(afero.NewOsFs(), log, useExiftool)
	md, err := ext.Extract(filePath)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", filePath, err)
	}

	switch reportFormat {
	case "json":
		return writeJSON(md)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(md)
	}

	t := output.NewTable(os.Stdout, []string{"Field", "Value"})
	t.AddRow([]string{"File", md.Path})
	t.AddRow([]string{"Format", md.Format})
	t.AddRow([]string{"Dimensions", fmt.Sprintf("%dx%d", md.Width, md.Height)})
	t.AddRow([]string{"Size", fmt.Sprintf("%d KB", md.SizeBytes/1024)})
	if md.Taken != nil {
		t.AddRow([]string{"Taken", md.Taken.Format("2006-01-02 15:04:05")})
	}
	if md.CameraMake != "" || md.CameraModel != "" {
		t.AddRow([]string{"Camera", fmt.Sprintf("%s %s", md.CameraMake, md.CameraModel)})
	}
	if md.Software != "" {
		t.AddRow([]string{"Software", md.Software})
	}
	if md.Orientation != 0 {
		t.AddRow([]string{"Orientation", fmt.Sprintf("%d", md.Orientation)})
	}
	t.AddRow([]string{"Metadata", md.Source.String()})
	return t.Render()
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	fs := afero.NewOsFs()

	var reg *prometheus.Registry
	if cfg.Server.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	server, err := web.NewServer(cfg, log, fs, newCompressor(cfg), extractor.NewEXIFExtractor(fs, log, useExiftool), reg)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	printer := output.NewPrinter(quiet)
	printer.Success("webp-shrink API listening on http://localhost:%d", cfg.Server.Port)
	printer.Info("Press Ctrl+C to stop the server")

	<-sigChan
	printer.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	printer.Success("Server stopped gracefully")
	return nil
}

// runWatch converts images dropped into dir until interrupted.
func runWatch(cmd *cobra.Command, dir string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !dirExists(dir) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	dest := cfg.Output.Directory
	if dest == "" {
		dest = filepath.Join(dir, "webp")
	}

	log := setupLogger(cfg)
	fs := afero.NewOsFs()
	conv := converter.NewConverter(cfg, fs, log, newCompressor(cfg))
	sv := saver.NewSaver(fs, log, cfg.Output.Overwrite)

	w, err := watcher.NewWatcher(cfg, log, conv, sv, dest)
	if err != nil {
		return err
	}
	if err := w.Start(dir); err != nil {
		return err
	}

	printer := output.NewPrinter(quiet)
	printer.Success("Watching %s, saving to %s", dir, dest)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case res, ok := <-w.Results():
			if !ok {
				return nil
			}
			printer.Outcome(res.Outcome)
			if res.SaveErr != nil {
				printer.Error("%s: %v", res.Outcome.OriginalName, res.SaveErr)
			}
			for _, r := range res.Save.Results {
				if r.Success() {
					printer.Print("  saved %s", r.Path)
				} else {
					printer.Error("%s: %s", r.SourceName, r.Error)
				}
			}
		case <-sigChan:
			printer.Info("Stopping watcher...")
			return w.Stop()
		}
	}
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Conversion.TargetSizeKB = targetSizeKB
	}
	if flags.Changed("min-quality") {
		cfg.Conversion.MinQuality = minQuality
	}
	if flags.Changed("max-quality") {
		cfg.Conversion.MaxQuality = maxQuality
	}
	if flags.Changed("max-dimension") {
		cfg.Conversion.MaxDimension = maxDimension
	}
	if flags.Changed("workers") {
		cfg.Performance.Workers = workers
	}
	if flags.Changed("output") {
		cfg.Output.Directory = outputDir
	}
	if flags.Changed("overwrite") {
		cfg.Output.Overwrite = overwrite
	}
}

func newCompressor(cfg *config.Config) *compressor.WebPCompressor {
	return compressor.NewWebPCompressor(compressor.Options{
		MaxDimension: cfg.Conversion.MaxDimension,
		AutoOrient:   cfg.Conversion.AutoOrient,
	})
}

// setupLogger configures and returns a logger. Console logging is only
// enabled with --verbose so it does not interleave with result lines.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	}.WithVerbosity(verbose, quiet)

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
