package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
)

var (
	colorAccent  = lipgloss.Color("#F97316")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#EAB308")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
)

var styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Header:  lipgloss.NewStyle().Bold(true).Underline(true),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1),
}

func statusStyle(s proposal.Status) lipgloss.Style {
	switch s {
	case proposal.StatusPending:
		return styles.Warning
	case proposal.StatusApproved:
		return styles.Success
	case proposal.StatusRejected, proposal.StatusExpired:
		return styles.Muted
	}
	return lipgloss.NewStyle()
}

// ok and fail prefix a line with a colored mark.
func ok(s string) string   { return styles.Success.Render("✓ ") + s }
func fail(s string) string { return styles.Error.Render("✗ ") + s }
