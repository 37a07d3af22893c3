package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thoscut/pdfocr/internal/client"
	"github.com/thoscut/pdfocr/internal/jobs"
)

var submitCmd = &cobra.Command{
	Use:   "submit [input.pdf]",
	Short: "OCR a document on a pdfocr server",
	Long:  "Upload a scanned PDF to a pdfocr server, follow its progress and download the searchable PDF.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringP("output", "o", "", "where to save the searchable PDF")
	submitCmd.Flags().String("server", "", "server URL (overrides config)")
	submitCmd.Flags().String("api-key", "", "API key (overrides config)")
	submitCmd.Flags().String("profile", "", "OCR profile on the server")
	submitCmd.Flags().String("engine", "", "OCR engine: tesseract, cuneiform or ocropus")
	submitCmd.Flags().StringP("lang", "l", "", "OCR language")
	submitCmd.Flags().Bool("check-lang", false, "reject languages the engine does not have")
	submitCmd.Flags().Int("dpi", 0, "resolution")
	submitCmd.Flags().String("preprocess", "", "page cleanup: none, unpaper or builtin")
	submitCmd.Flags().StringSlice("deliver", nil, "server output target (repeatable)")
	submitCmd.Flags().Bool("no-wait", false, "return after the upload")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	input := args[0]
	outPath, _ := cmd.Flags().GetString("output")
	noWait, _ := cmd.Flags().GetBool("no-wait")

	if outPath != "" {
		if _, err := os.Lstat(outPath); err == nil {
			return fmt.Errorf("output %s already exists", outPath)
		}
	}

	c := remoteClient(cmd)

	opts := client.SubmitOptions{}
	opts.Profile, _ = cmd.Flags().GetString("profile")
	opts.Engine, _ = cmd.Flags().GetString("engine")
	opts.Language, _ = cmd.Flags().GetString("lang")
	opts.CheckLanguage, _ = cmd.Flags().GetBool("check-lang")
	opts.DPI, _ = cmd.Flags().GetInt("dpi")
	opts.Preprocess, _ = cmd.Flags().GetString("preprocess")
	opts.Deliver, _ = cmd.Flags().GetStringSlice("deliver")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	job, err := c.Submit(ctx, input, opts)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Fprintf(out, "Job ID: %s\n", job.ID)

	if noWait {
		return nil
	}

	id := job.ID
	job, err = c.WaitForJob(ctx, id, func(u jobs.ProgressUpdate) {
		if u.Message != "" {
			fmt.Fprintf(out, "\r\033[K  %3d%% %s", u.Progress, u.Message)
		}
	})
	fmt.Fprintln(out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			cancelRemote(c, id)
		}
		return fmt.Errorf("wait for job: %w", err)
	}

	switch jobs.JobStatus(job.Status) {
	case jobs.StatusFailed:
		return fmt.Errorf("OCR failed: %s", job.Error)
	case jobs.StatusCancelled:
		fmt.Fprintln(out, warnStyle.Render("Job was cancelled"))
		return nil
	}

	if s := job.Summary; s != nil {
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("%d of %d pages OCRed with %s", s.Produced, s.Total, s.Engine)))
		if len(s.Delivered) > 0 {
			fmt.Fprintf(out, "Delivered to %s\n", strings.Join(s.Delivered, ", "))
		}
		if s.DeliveryError != "" {
			fmt.Fprintln(out, errorStyle.Render("Delivery failed: "+s.DeliveryError))
		}
	}

	if outPath == "" {
		return nil
	}
	n, err := c.Download(ctx, job.ID, outPath)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	fmt.Fprintf(out, "Saved %s (%d bytes)\n", outPath, n)
	return nil
}

func remoteClient(cmd *cobra.Command) *client.Client {
	url := cfg.Remote.URL
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		url = s
	}
	key := cfg.Remote.APIKey
	if k, _ := cmd.Flags().GetString("api-key"); k != "" {
		key = k
	}
	return client.New(url, key)
}

// cancelRemote asks the server to drop a job the user interrupted.
func cancelRemote(c *client.Client, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.CancelJob(ctx, id); err != nil {
		slog.Warn("could not cancel remote job", "job_id", id, "error", err)
	}
}
