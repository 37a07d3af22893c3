package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thoscut/pdfocr/internal/config"
)

// Version is set by main from the build.
var Version = "dev"

var (
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
	profiles  *config.ProfileStore
)

var rootCmd = &cobra.Command{
	Use:   "pdfocr -i input.pdf -o output.pdf",
	Short: "pdfocr - make scanned PDFs searchable",
	Long: `pdfocr splits a scanned PDF into pages, runs OCR on every page and merges
the pages back into one PDF with an invisible text layer. The document
metadata of the input is kept.

OCR is done by tesseract, cuneiform or ocropus, whichever is installed
first in that order unless one is chosen explicitly.`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runOCR,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(langsCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("pdfocr {{.Version}}\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	setupLogging(cfg.Logging, os.Stderr)

	profilesDir := config.ProfilesDir()
	if cfgFile != "" {
		profilesDir = filepath.Join(filepath.Dir(cfgFile), "profiles")
	}
	profiles, err = config.NewProfileStore(profilesDir)
	if err != nil {
		slog.Warn("failed to load profiles from directory, using defaults", "dir", profilesDir, "error", err)
		profiles, _ = config.NewProfileStore("")
	}
	return nil
}

func setupLogging(lc config.LoggingConfig, w io.Writer) {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// configPath is where config set writes to.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pdfocr %s\n", Version)
	},
}
