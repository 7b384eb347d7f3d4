// Package tui renders live run progress and run summaries in the terminal.
package tui

import "github.com/charmbracelet/lipgloss"

// Layout defaults.
const (
	defaultWidth  = 80
	borderPadding = 4
	maxBarWidth   = 72
)

// Color palette.
const (
	colorHeader  = lipgloss.Color("39")
	colorLabel   = lipgloss.Color("245")
	colorValue   = lipgloss.Color("255")
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("214")
	colorError   = lipgloss.Color("196")
	colorSubtle  = lipgloss.Color("240")
	colorBorder  = lipgloss.Color("63")
)

// Shared styles.
//
//nolint:gochecknoglobals // Intentional: lipgloss styles are immutable values.
var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorHeader)
	LabelStyle   = lipgloss.NewStyle().Foreground(colorLabel)
	ValueStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorValue)
	SuccessStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	ErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	SubtleStyle  = lipgloss.NewStyle().Foreground(colorSubtle)
	InfoStyle    = lipgloss.NewStyle().Foreground(colorHeader)
	BoxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)
