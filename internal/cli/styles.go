package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

type noticeKind int

const (
	noticeInfo noticeKind = iota
	noticeSuccess
	noticeWarn
	noticeError
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	colorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorOrange = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	colorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
)

var (
	successStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorBlue)
	warnStyle    = lipgloss.NewStyle().Foreground(colorOrange)
	errorStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorGray)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func notice(w io.Writer, kind noticeKind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	var style lipgloss.Style
	var prefix string
	switch kind {
	case noticeSuccess:
		style, prefix = successStyle, "✓"
	case noticeWarn:
		style, prefix = warnStyle, "!"
	case noticeError:
		style, prefix = errorStyle, "✗"
	default:
		style, prefix = infoStyle, "•"
	}
	fmt.Fprintln(w, style.Render(prefix+" "+msg))
}
