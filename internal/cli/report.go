package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/apresai/newsdesk/internal/quality"
)

// style constants
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	labelStyle = lipgloss.NewStyle().
			Width(10).
			Align(lipgloss.Right).
			MarginRight(2)

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			Italic(true)

	issueStyle = lipgloss.NewStyle().
			PaddingLeft(14)
)

// renderReport prints one line per validation key followed by its issues.
// Keys missing from results are skipped.
func renderReport(w io.Writer, results map[string]quality.Result, keys []string) {
	fmt.Fprintf(w, "\n  %s\n", titleStyle.Render("Validation"))
	for _, key := range keys {
		res, ok := results[key]
		if !ok {
			continue
		}
		verdict := passStyle.Render("PASS")
		if !res.Valid {
			verdict = failStyle.Render("FAIL")
		}
		stats := dimStyle.Render(fmt.Sprintf("%d stories, %d citations", res.StoryCount, res.CitationCount))
		fmt.Fprintf(w, "%s%s  %s\n", labelStyle.Render(key), verdict, stats)
		for _, issue := range res.Issues {
			fmt.Fprintln(w, issueStyle.Render("- "+issue))
		}
	}
}
