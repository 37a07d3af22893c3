package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thoscut/pdfocr/internal/api"
	"github.com/thoscut/pdfocr/internal/jobs"
	"github.com/thoscut/pdfocr/internal/output"
	"github.com/thoscut/pdfocr/internal/processor"
	"github.com/thoscut/pdfocr/internal/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OCR HTTP service",
	Long:  "Accept PDF uploads over HTTP, process them in the background and deliver the results.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen address (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	serveCmd.Flags().String("data-dir", "", "directory for uploads and results (overrides config)")
	serveCmd.Flags().Int("workers", 0, "documents processed at the same time (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Server.DataDirectory = dir
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Server.MaxConcurrentJobs = n
	}

	slog.Info("starting pdfocr server", "version", Version)

	proc := processor.New(cfg.Tools, runner.NewExec(nil, cfg.Defaults.ToolTimeout.Duration()))
	for _, t := range proc.Tools() {
		if !t.Found {
			slog.Warn("external tool not found", "tool", t.Name, "binary", t.Binary)
		}
	}

	srv := api.NewServer(cfg, Version, jobs.NewQueue(0), profiles, proc, output.NewManager(cfg.Output))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		return err
	}
	<-done
	return nil
}
