package main

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var severityStyles = map[string]lipgloss.Style{
	"Milestone": lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
	"Warning":   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	"Error":     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

var faint = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

// useColor reports whether logs output gets colored: only on a terminal
// and never with --no-color or NO_COLOR set.
func useColor() bool {
	if flagNoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// colorize highlights the severity of a time|severity|author|text log
// record. Lines in any other shape are returned untouched.
func colorize(line string) string {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return line
	}
	severity := parts[1]
	if style, ok := severityStyles[severity]; ok {
		severity = style.Render(severity)
	}
	return faint.Render(parts[0]) + "|" + severity + "|" + parts[2] + "|" + parts[3]
}
