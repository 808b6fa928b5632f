package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/icewatch/internal/notify"
)

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorHigh      = lipgloss.Color("196") // Red
	colorMedium    = lipgloss.Color("202") // Orange-red
	colorLow       = lipgloss.Color("214") // Orange
)

// TitleBar style for the header line.
var TitleBar = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

// SelectedItem style for the highlighted incident.
var SelectedItem = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("237")).
	Padding(0, 1)

// NormalItem style for open incidents.
var NormalItem = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Padding(0, 1)

// ClosedItem style for incidents that stopped receiving reports.
var ClosedItem = lipgloss.NewStyle().
	Foreground(colorSecondary).
	Padding(0, 1)

// SectionHeader style for pane titles.
var SectionHeader = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight).
	MarginTop(1).
	Padding(0, 1)

// SourceBadge style for source labels.
var SourceBadge = lipgloss.NewStyle().
	Foreground(colorPrimary).
	Background(lipgloss.Color("236")).
	Padding(0, 1).
	MarginRight(1)

// MutedText for timestamps and secondary details.
var MutedText = lipgloss.NewStyle().
	Foreground(colorMuted)

// AcceptedText marks reports that entered the engine.
var AcceptedText = lipgloss.NewStyle().
	Foreground(colorSuccess)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("196")).
	Bold(true).
	Padding(0, 1)

// DebugPanel style for the journal overlay.
var DebugPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(1, 2)

// DebugHeaderStyle for section headers inside the overlay.
var DebugHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)

// BandStyle returns the badge style for a confidence band.
func BandStyle(b notify.Band) lipgloss.Style {
	c := colorLow
	switch b {
	case notify.BandHigh:
		c = colorHigh
	case notify.BandMedium:
		c = colorMedium
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(c).Padding(0, 1)
}
