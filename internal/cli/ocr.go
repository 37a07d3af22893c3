package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/output"
	"github.com/thoscut/pdfocr/internal/processor"
	"github.com/thoscut/pdfocr/internal/runner"
)

func init() {
	setupOCRFlags(rootCmd)
}

// setupOCRFlags registers the flags of an OCR run on cmd.
func setupOCRFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("input", "i", "", "scanned PDF to read")
	f.StringP("output", "o", "", "searchable PDF to write (must not exist)")
	f.BoolP("tesseract", "t", false, "OCR with tesseract")
	f.BoolP("cuneiform", "c", false, "OCR with cuneiform")
	f.BoolP("ocropus", "p", false, "OCR with ocropus (ocroscript)")
	f.StringP("lang", "l", "", "OCR language, checked against the engine's language list")
	f.StringP("nocheck-lang", "L", "", "OCR language, passed on unchecked")
	f.StringP("workingdir", "w", "", "create the workspace inside this directory")
	f.BoolP("keep", "k", false, "keep temporary files")
	f.BoolP("unpaper", "u", false, "clean pages with unpaper before OCR")
	f.String("preprocess", "", "page cleanup: none, unpaper or builtin")
	f.Int("dpi", 0, "resolution for rasterizing, OCR and embedding (default from config)")
	f.Bool("no-cropbox", false, "rasterize the media box instead of the crop box")
	f.IntP("jobs", "j", 0, "pages processed in parallel (default from config)")
	f.String("profile", "", "OCR profile (default from config)")
	f.StringSlice("deliver", nil, "deliver the result to this output target as well (repeatable)")

	cmd.MarkFlagsMutuallyExclusive("tesseract", "cuneiform", "ocropus")
	cmd.MarkFlagsMutuallyExclusive("lang", "nocheck-lang")
	cmd.MarkFlagsMutuallyExclusive("unpaper", "preprocess")
}

// resolveDefaults layers the profile and the command-line flags over the
// loaded configuration.
func resolveDefaults(cmd *cobra.Command, c *config.Config, store *config.ProfileStore) (config.DefaultsConfig, error) {
	f := cmd.Flags()

	name, _ := f.GetString("profile")
	d, err := store.Resolve(c.Defaults, name)
	if err != nil {
		return d, err
	}

	for _, engine := range []string{"tesseract", "cuneiform", "ocropus"} {
		if on, _ := f.GetBool(engine); on {
			d.Engine = engine
		}
	}

	if f.Changed("lang") {
		d.Language, _ = f.GetString("lang")
		d.CheckLanguage = true
	}
	if f.Changed("nocheck-lang") {
		d.Language, _ = f.GetString("nocheck-lang")
		d.CheckLanguage = false
	}

	if f.Changed("workingdir") {
		d.WorkingDir, _ = f.GetString("workingdir")
	}
	if keep, _ := f.GetBool("keep"); keep {
		d.Keep = true
	}

	if on, _ := f.GetBool("unpaper"); on {
		d.Preprocess = string(processor.PreprocessUnpaper)
	}
	if f.Changed("preprocess") {
		d.Preprocess, _ = f.GetString("preprocess")
	}

	if f.Changed("dpi") {
		d.DPI, _ = f.GetInt("dpi")
	}
	if noCrop, _ := f.GetBool("no-cropbox"); noCrop {
		d.CropBox = false
	}
	if f.Changed("jobs") {
		d.Jobs, _ = f.GetInt("jobs")
	}
	if f.Changed("deliver") {
		d.Deliver, _ = f.GetStringSlice("deliver")
	}

	return d, nil
}

func runOCR(cmd *cobra.Command, args []string) error {
	if cmd.Flags().NFlag() == 0 {
		return cmd.Help()
	}

	d, err := resolveDefaults(cmd, cfg, profiles)
	if err != nil {
		return err
	}

	input, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	rc, err := processor.NewRunConfig(d, input, outputPath)
	if err != nil {
		return err
	}

	var outputs *output.Manager
	if len(d.Deliver) > 0 {
		outputs = output.NewManager(cfg.Output)
		if err := outputs.Check(d.Deliver); err != nil {
			return fmt.Errorf("%w: %v", processor.ErrConfig, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	proc := processor.New(cfg.Tools,
		runner.NewExec(out, d.ToolTimeout.Duration()),
		processor.WithProgress(func(u processor.Update) { printUpdate(out, u) }))

	res, err := proc.Process(ctx, rc)
	if err != nil {
		if res != nil && res.Workspace != "" {
			slog.Info("temporary files kept", "workspace", res.Workspace)
		}
		return err
	}

	printSummary(out, res)

	if outputs != nil {
		return deliver(ctx, out, outputs, res, d.Deliver)
	}
	return nil
}

func deliver(ctx context.Context, w io.Writer, outputs *output.Manager, res *processor.Result, targets []string) error {
	if err := outputs.Deliver(ctx, res.Output, res.Filename(), res.Title, targets); err != nil {
		return fmt.Errorf("deliver %s: %w", res.Output, err)
	}
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("Delivered to %d target(s)", len(targets))))
	return nil
}
