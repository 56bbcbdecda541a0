package tui

import (
	"github.com/OptimusRahul/covid19-tracker/covid"
	"github.com/charmbracelet/lipgloss"
)

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.AdaptiveColor{Light: "4", Dark: "12"})

var dimStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})

var errorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

var selectedStyle = lipgloss.NewStyle().Reverse(true)

var favoriteStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "3", Dark: "11"})

// riskColors maps each risk level to a badge color.
var riskColors = map[covid.RiskLevel]lipgloss.AdaptiveColor{
	covid.RiskLow:      {Light: "2", Dark: "10"},
	covid.RiskMedium:   {Light: "3", Dark: "11"},
	covid.RiskHigh:     {Light: "208", Dark: "208"},
	covid.RiskCritical: {Light: "1", Dark: "9"},
}

// RiskBadge returns a colored risk label.
func RiskBadge(level covid.RiskLevel) string {
	color, ok := riskColors[level]
	if !ok {
		color = lipgloss.AdaptiveColor{Light: "240", Dark: "245"}
	}
	return lipgloss.NewStyle().Foreground(color).Render(string(level))
}
