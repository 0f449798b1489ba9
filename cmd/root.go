package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/siardsearch/internal/archive"
	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/orchestrator"
	"github.com/brensch/siardsearch/internal/schema"
	"github.com/brensch/siardsearch/internal/search"
)

var (
	// Config flags - bound in init()
	cfgFile    string
	uploadDir  string
	extractDir string
	outputDir  string
	workers    int
	logFormat  string
	logLevel   string
	logOutput  string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	logFile    *os.File
	appConfig  config.Config
	corrector  *schema.Corrector
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "siardsearch",
	Short: "Extract SIARD/ZIP exports, correct their schemas and search their tables.",
	Long: `siardsearch extracts ZIP and SIARD archives into an extraction directory, records the
directory structure in structure.json, maps misspelled column headers onto the canonical
schemas in schemas.json and runs parallel case-insensitive searches over the extracted tables.

Use 'extract' to ingest archives, 'search' to query them and 'serve' to expose the same
workflow over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		if logOutput != "" && strings.ToLower(logOutput) != "stderr" {
			if strings.ToLower(logOutput) == "stdout" {
				logWriter = os.Stdout
			} else {
				f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
				}
				logFile = f
				logWriter = f
			}
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load config file, then let explicit flags win ---
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("upload-dir") {
			cfg.UploadDir = uploadDir
		}
		if flags.Changed("extract-dir") {
			cfg.ExtractDir = extractDir
		}
		if flags.Changed("output-dir") {
			cfg.OutputDir = outputDir
		}
		if flags.Changed("workers") {
			cfg.ExtractWorkers = workers
			cfg.UploadWorkers = workers
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		appConfig = cfg
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

		// --- 3. Canonical schemas ---
		var catalog *schema.Catalog
		if cfg.CatalogPath != "" {
			catalog, err = schema.LoadCatalogFile(cfg.CatalogPath)
		} else {
			catalog, err = schema.DefaultCatalog()
		}
		if err != nil {
			return fmt.Errorf("failed to load schema catalog: %w", err)
		}
		corrector = schema.NewCorrector(catalog, cfg.SimilarityThreshold)
		rootLogger.Debug("Schema catalog loaded", "tables", len(catalog.Tables()), "columns", len(catalog.Pool()))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	},
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	defaults := config.Default()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&uploadDir, "upload-dir", "u", defaults.UploadDir, "Directory receiving uploaded archives")
	rootCmd.PersistentFlags().StringVarP(&extractDir, "extract-dir", "x", defaults.ExtractDir, "Extraction directory holding the extraction roots")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", defaults.OutputDir, "Directory for exported Parquet files")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", defaults.ExtractWorkers, "Concurrent archive extractions")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(schemasCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

// Helper to get logger (could use context propagation instead)
func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

// Helper to get Config (could use context propagation instead)
func getConfig() config.Config {
	return appConfig
}

func newPipeline() (*orchestrator.Pipeline, error) {
	cfg := getConfig()
	x, err := archive.New(
		archive.WithWorkers(cfg.ExtractWorkers),
		archive.WithExtensions(cfg.ArchiveExtensions),
		archive.WithLogger(getLogger()),
	)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(x, corrector, cfg.TabularExtensions, getLogger()), nil
}

func newEngine(searchWorkers int, taskTimeout time.Duration) (*search.Engine, error) {
	cfg := getConfig()
	return search.NewEngine(
		search.WithWorkers(searchWorkers),
		search.WithTaskTimeout(taskTimeout),
		search.WithExtensions(cfg.TabularExtensions...),
		search.WithCorrector(corrector),
		search.WithLogger(getLogger()),
	)
}
