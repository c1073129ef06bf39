package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/term"

	"nativepatch/internal/batch"
	"nativepatch/internal/nativepatch/styles"
)

// RenderMarkdown summarizes a batch as a markdown table.
func RenderMarkdown(r *batch.Report) string {
	var b strings.Builder
	b.WriteString("# nativepatch\n\n")

	s := r.Summary
	fmt.Fprintf(&b, "**%d** %s: %d patched, %d unchanged, %d skipped, %d failed",
		s.Total, plural(s.Total, "library", "libraries"), s.Patched, s.Unchanged, s.Skipped, s.Failed)
	if r.DryRun {
		b.WriteString(" *(dry run, nothing written)*")
	}
	b.WriteString("\n\n")

	if len(r.Results) == 0 {
		return b.String()
	}
	b.WriteString("| Library | Status | Function | Patches | Error |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, res := range r.Results {
		ok := 0
		for _, att := range res.Attempts {
			if att.OK {
				ok++
			}
		}
		patches := "-"
		if len(res.Attempts) > 0 {
			patches = fmt.Sprintf("%d/%d", ok, len(res.Attempts))
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
			filepath.Base(res.Path), res.Status, cell(res.Function), patches, cell(res.Err))
	}
	return b.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func renderTerminal(md string) (string, error) {
	width := 100
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		width = w
	}
	r, err := styles.GetMarkdownRenderer(width)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
