package main

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	targetStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	retryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle   = lipgloss.NewStyle().Faint(true)
)

func field(label string, value string) string {
	return labelStyle.Render(label+":") + " " + valueStyle.Render(value)
}
