package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 1)

	metricValue = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)

	metricLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899"))

	sparkHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	sparkMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	sparkLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// progressBar renders the fraction done in [0, 1], coloured by how far along it is.
func progressBar(done float64, width int) string {
	filled := int(done * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case done > 0.8:
		return sparkHigh.Render(bar)
	case done > 0.4:
		return sparkMid.Render(bar)
	default:
		return sparkLow.Render(bar)
	}
}

// sparkline renders the last width values of a series in [0, 1].
func sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return dimmer.Render(strings.Repeat("─", width))
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var sb strings.Builder
	for _, v := range values {
		idx := int(v * float64(len(chars)-1))
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		c := string(chars[idx])
		switch {
		case v > 0.7:
			sb.WriteString(sparkHigh.Render(c))
		case v > 0.3:
			sb.WriteString(sparkMid.Render(c))
		default:
			sb.WriteString(sparkLow.Render(c))
		}
	}
	return sb.String()
}

func separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", max(mid-3, 0))
	right := strings.Repeat("─", max(width-mid-3, 0))
	return dimmer.Render(left + " ◆ " + right)
}
