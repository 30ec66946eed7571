package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorYellow = lipgloss.Color("214")
	colorRed    = lipgloss.Color("196")
	colorCyan   = lipgloss.Color("39")
	colorGray   = lipgloss.Color("245")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	hintStyle  = lipgloss.NewStyle().Foreground(colorGray)

	labelStyle = lipgloss.NewStyle().Width(20).Foreground(colorGray)
	valueStyle = lipgloss.NewStyle()
	urlStyle   = lipgloss.NewStyle().Foreground(colorCyan)
	errorStyle = lipgloss.NewStyle().Foreground(colorRed)
	timeStyle  = lipgloss.NewStyle().Foreground(colorGray)
	kindStyle  = lipgloss.NewStyle().Width(20)

	statsHeaderStyle = lipgloss.NewStyle().Width(8).Foreground(colorGray)
	statsValueStyle  = lipgloss.NewStyle().Width(8)
)

// StatusText renders a session status with its color.
func StatusText(status string) string {
	style := lipgloss.NewStyle()
	switch status {
	case "online":
		style = style.Foreground(colorGreen)
	case "connecting", "reconnecting":
		style = style.Foreground(colorYellow)
	case "offline", "unregistered":
		style = style.Foreground(colorRed)
	default:
		style = style.Foreground(colorGray)
	}
	return style.Render(status)
}

// KindText renders an envelope type in a fixed width column.
func KindText(kind string) string {
	if kind == "" {
		kind = "-"
	}
	return kindStyle.Render(kind)
}

// ResultText renders the outcome of a publish.
func ResultText(err error) string {
	if err != nil {
		return errorStyle.Render("dropped: " + err.Error())
	}
	return lipgloss.NewStyle().Foreground(colorGreen).Render("sent")
}
