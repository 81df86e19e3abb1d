package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff87"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2).BorderForeground(lipgloss.Color("#00d7ff"))
)

// banner renders the startup box listing every engine's bound address.
func banner(engines []engineSpec) string {
	body := titleStyle.Render("duplexd")
	for _, e := range engines {
		body += "\n" + labelStyle.Render(e.name+":") + valueStyle.Render(e.address)
	}
	return boxStyle.Render(body)
}
