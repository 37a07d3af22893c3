package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thoscut/pdfocr/internal/processor"
	"github.com/thoscut/pdfocr/internal/runner"
)

var langsCmd = &cobra.Command{
	Use:   "langs [engine]",
	Short: "List the languages an OCR engine has installed",
	Long:  "List the languages of the given engine, or of the engine auto-detection would pick.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLangs,
}

func init() {
	langsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runLangs(cmd *cobra.Command, args []string) error {
	engine := processor.EngineAuto
	if len(args) == 1 {
		e, err := processor.ParseEngine(args[0])
		if err != nil {
			return err
		}
		engine = e
	}

	proc := processor.New(cfg.Tools, runner.NewExec(nil, cfg.Defaults.ToolTimeout.Duration()))
	engine, langs, err := proc.Languages(cmd.Context(), engine)
	if err != nil {
		return fmt.Errorf("list %s languages: %w", engine, err)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"engine":    engine.String(),
			"languages": langs,
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render(engine.String()))
	for _, l := range langs {
		fmt.Fprintln(cmd.OutOrStdout(), l)
	}
	return nil
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show which external tools are installed",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
	proc := processor.New(cfg.Tools, runner.NewExec(nil, 0))
	tools := proc.Tools()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tBINARY\tSTATUS")
	for _, t := range tools {
		status := errorStyle.Render("missing")
		if t.Found {
			status = successStyle.Render(t.Path)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Binary, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if _, err := proc.ResolveEngine(processor.EngineAuto); err != nil {
		fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
	}
	return nil
}
