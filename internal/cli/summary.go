package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/thoscut/pdfocr/internal/processor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	labelStyle = lipgloss.NewStyle().
			Width(10).
			Foreground(lipgloss.Color("241"))
)

// progressMu serializes progress lines from concurrent page workers.
var progressMu sync.Mutex

// printUpdate prints one progress line per page stage.
func printUpdate(w io.Writer, u processor.Update) {
	progressMu.Lock()
	defer progressMu.Unlock()

	switch u.State {
	case processor.StateSkipped:
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("[%d/%d] page %d skipped at %s", u.Completed, u.Total, u.Page, u.Stage)))
	case processor.StateDone:
		fmt.Fprintln(w, statusStyle.Render(fmt.Sprintf("[%d/%d] page %d done", u.Completed, u.Total, u.Page)))
	default:
		fmt.Fprintln(w, statusStyle.Render(u.Message))
	}
}

// printSummary renders the outcome of a run.
func printSummary(w io.Writer, res *processor.Result) {
	fmt.Fprintln(w, renderSummary(res))
}

func renderSummary(res *processor.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Searchable PDF written"))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Output", res.Output)
	if res.Title != "" {
		row("Title", res.Title)
	}
	row("Engine", res.Engine)
	row("Pages", fmt.Sprintf("%d of %d", res.Produced, res.Total))
	if res.Fallbacks > 0 {
		row("Fallback", warnStyle.Render(fmt.Sprintf("%d page(s) without text layer", res.Fallbacks)))
	}
	if res.Skipped > 0 {
		var missing []string
		for _, pg := range res.Pages {
			if pg.State == processor.StateSkipped {
				missing = append(missing, fmt.Sprintf("%d (%s)", pg.Number, pg.FailedStage))
			}
		}
		row("Skipped", errorStyle.Render(strings.Join(missing, ", ")))
	}
	if res.Workspace != "" {
		row("Kept", res.Workspace)
	}
	row("Time", res.Duration.Round(time.Millisecond).String())

	return strings.TrimRight(b.String(), "\n")
}
