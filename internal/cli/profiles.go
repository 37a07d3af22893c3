package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Show OCR profiles",
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesShowCmd)
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available profiles",
	RunE:  runProfilesList,
}

var profilesShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show profile details",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesShow,
}

func init() {
	profilesListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	names := profiles.Names()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		all := make(map[string]any, len(names))
		for _, name := range names {
			p, _ := profiles.Get(name)
			all[name] = p
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tRESOLUTION\tPREPROCESS")
	for _, name := range names {
		p, _ := profiles.Get(name)
		dpi := "-"
		if p.OCR.DPI > 0 {
			dpi = fmt.Sprintf("%d DPI", p.OCR.DPI)
		}
		pre := p.OCR.Preprocess
		if pre == "" {
			pre = "-"
		}
		marker := ""
		if name == cfg.Defaults.Profile {
			marker = " *"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", name, marker, p.Profile.Description, dpi, pre)
	}
	return w.Flush()
}

func runProfilesShow(cmd *cobra.Command, args []string) error {
	p, ok := profiles.Get(args[0])
	if !ok {
		return fmt.Errorf("profile %q not found", args[0])
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
