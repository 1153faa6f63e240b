// Package ui renders command output for the terminal.
//
// Output is styled with lipgloss when writing to a color terminal and
// falls back to plain text otherwise, so that piped output stays
// greppable.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Theme is the color scheme of the CLI.
type Theme struct {
	Foreground    lipgloss.Color
	ForegroundDim lipgloss.Color
	Primary       lipgloss.Color
	Success       lipgloss.Color
	Warning       lipgloss.Color
	Error         lipgloss.Color
	Border        lipgloss.Color
}

// DefaultTheme is the default color scheme
var DefaultTheme = Theme{
	Foreground:    lipgloss.Color("#c0caf5"),
	ForegroundDim: lipgloss.Color("#565f89"),
	Primary:       lipgloss.Color("#7aa2f7"),
	Success:       lipgloss.Color("#9ece6a"),
	Warning:       lipgloss.Color("#e0af68"),
	Error:         lipgloss.Color("#f7768e"),
	Border:        lipgloss.Color("#3b4261"),
}

// MaxWidth caps the width of rendered blocks.
const MaxWidth = 80

// Styles holds the pre-computed styles.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, t Theme, width int) Styles {
	return Styles{
		Title:   r.NewStyle().Bold(true).Foreground(t.Primary),
		Label:   r.NewStyle().Foreground(t.ForegroundDim).Width(14),
		Value:   r.NewStyle().Foreground(t.Foreground),
		Muted:   r.NewStyle().Foreground(t.ForegroundDim),
		Success: r.NewStyle().Foreground(t.Success),
		Warning: r.NewStyle().Foreground(t.Warning),
		Error:   r.NewStyle().Foreground(t.Error).Bold(true),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1).
			MaxWidth(width),
	}
}

// Printer writes styled output.
type Printer struct {
	out    io.Writer
	width  int
	styles Styles
}

// NewPrinter returns a printer for out. Colors and the width are taken
// from the terminal when out is one.
func NewPrinter(out io.Writer) *Printer {
	width := MaxWidth
	profile := termenv.Ascii
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 && w < MaxWidth {
			width = w
		}
		profile = termenv.NewOutput(f).EnvColorProfile()
	}
	return newPrinter(out, profile, width)
}

// NewPlainPrinter returns a printer that never emits escape sequences.
func NewPlainPrinter(out io.Writer) *Printer {
	return newPrinter(out, termenv.Ascii, MaxWidth)
}

func newPrinter(out io.Writer, profile termenv.Profile, width int) *Printer {
	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(profile)
	return &Printer{
		out:    out,
		width:  width,
		styles: newStyles(r, DefaultTheme, width),
	}
}

// Styles returns the printer's styles.
func (p *Printer) Styles() Styles { return p.styles }

// IsInteractive reports whether f is a terminal a prompt can run on.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
