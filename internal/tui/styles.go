package tui

import "github.com/charmbracelet/lipgloss"

// Styles
var (
	baseFg    = lipgloss.Color("#E6E6E6")
	baseDimFg = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6B7280"}
	accentFg  = lipgloss.Color("#7C3AED")
	readyFg   = lipgloss.Color("#22C55E")
	errorFg   = lipgloss.Color("#EF4444")
	loadingFg = lipgloss.Color("#F59E0B")

	titleStyle   = lipgloss.NewStyle().Foreground(accentFg).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(baseDimFg)
	appStyle     = lipgloss.NewStyle().Foreground(baseFg)
	readyStyle   = lipgloss.NewStyle().Foreground(readyFg)
	errorStyle   = lipgloss.NewStyle().Foreground(errorFg)
	loadingStyle = lipgloss.NewStyle().Foreground(loadingFg)

	positiveMarker = lipgloss.NewStyle().Foreground(lipgloss.Color("#44FF44")).Bold(true)
	negativeMarker = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444")).Bold(true)
	cursorMarker   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
)
