package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// DefaultWrapWidth is the column width replies are wrapped at
const DefaultWrapWidth = 100

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Renderer turns Markdown replies into terminal output
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer creates a Markdown renderer. An empty style picks one from
// the terminal background. A renderer that fails to initialise prints
// replies as plain text.
func NewRenderer(width int, style string) *Renderer {
	if width <= 0 {
		width = DefaultWrapWidth
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}

	md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{md: md}
}

// Render returns text rendered as Markdown, or text itself on failure
func (r *Renderer) Render(text string) string {
	if r == nil || r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
