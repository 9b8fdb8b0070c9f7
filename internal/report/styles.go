package report

import "github.com/charmbracelet/lipgloss"

// Bootlab color palette
var (
	ColorHead = lipgloss.Color("#A8D8EA") // headers
	ColorPass = lipgloss.Color("#4ECDC4") // clean halts
	ColorFail = lipgloss.Color("#FF6B6B") // failures
	ColorSkip = lipgloss.Color("#FFE66D") // environment gaps
	ColorDim  = lipgloss.Color("#596E79") // secondary text
)

var (
	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorHead).
			Bold(true)

	StylePass = lipgloss.NewStyle().Foreground(ColorPass).Bold(true)
	StyleFail = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	StyleSkip = lipgloss.NewStyle().Foreground(ColorSkip).Bold(true)
	StyleDim  = lipgloss.NewStyle().Foreground(ColorDim)
)
