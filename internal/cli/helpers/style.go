package helpers

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/coral-mesh/autotest/internal/logging"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)

// Styles renders terminal styling. The zero value renders plain text.
type Styles struct {
	Enabled bool
}

// StylesFor enables styling when w is a terminal.
func StylesFor(w io.Writer) Styles {
	f, ok := w.(*os.File)
	return Styles{Enabled: ok && logging.IsTerminal(f)}
}

func (s Styles) render(style lipgloss.Style, text string) string {
	if !s.Enabled {
		return text
	}
	return style.Render(text)
}

// Header styles a heading or table header.
func (s Styles) Header(text string) string { return s.render(headerStyle, text) }

// Label styles a field label.
func (s Styles) Label(text string) string { return s.render(labelStyle, text) }

// Good styles a positive value.
func (s Styles) Good(text string) string { return s.render(passStyle, text) }

// Warn styles a value that needs attention.
func (s Styles) Warn(text string) string { return s.render(warnStyle, text) }
