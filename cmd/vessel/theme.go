package main

import "github.com/charmbracelet/lipgloss"

// theme keeps every CLI color in one place.
type theme struct {
	Passed  lipgloss.Style
	Failed  lipgloss.Style
	Skipped lipgloss.Style

	Title  lipgloss.Style
	Header lipgloss.Style
	Band   lipgloss.Style
	Dim    lipgloss.Style
}

var styles = newTheme()

func newTheme() theme {
	return theme{
		Passed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Skipped: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#874BFD")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Band: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}
