package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type styles struct {
	header lipgloss.Style
	gutter lipgloss.Style
	caret  lipgloss.Style
}

// newStyles returns styles bound to w, so colours are dropped when w is not
// a terminal. Tabs are kept so underlines stay aligned with the source.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return styles{
		header: base.Foreground(lipgloss.Color("1")).Bold(true),
		gutter: base.Foreground(lipgloss.Color("8")),
		caret:  base.Foreground(lipgloss.Color("1")),
	}
}

// renderDiagnostic colours the output of formula.Diagnose: the header line,
// the line-number gutter and the underline.
func renderDiagnostic(w io.Writer, diag string) string {
	st := newStyles(w)
	lines := strings.Split(strings.TrimRight(diag, "\n"), "\n")

	var b strings.Builder
	for i, line := range lines {
		switch {
		case i == 0:
			b.WriteString(st.header.Render(line))
		case len(line) > 7 && line[5:7] == "| ":
			gutter, text := line[:7], line[7:]
			if strings.TrimSpace(gutter) == "|" && strings.Contains(text, "^") {
				text = st.caret.Render(text)
			}
			b.WriteString(st.gutter.Render(gutter) + text)
		default:
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
