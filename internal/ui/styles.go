package ui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	App             lipgloss.Style
	Header          lipgloss.Style
	Sidebar         lipgloss.Style
	SidebarTitle    lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style
	Main            lipgloss.Style
	Overlay         lipgloss.Style
	Section         lipgloss.Style
	Muted           lipgloss.Style
	Stable          lipgloss.Style
	Canary          lipgloss.Style
	Preview         lipgloss.Style
	StatusBar       lipgloss.Style
	StatusLabel     lipgloss.Style
	StatusValue     lipgloss.Style
	StatusWarn      lipgloss.Style
	Error           lipgloss.Style
}

func newStyles() styles {
	border := lipgloss.RoundedBorder()

	return styles{
		App: lipgloss.NewStyle(),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("62")).
			Padding(0, 1),
		Sidebar: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		SidebarTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		SidebarItem: lipgloss.NewStyle(),
		SidebarSelected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")),
		Main: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		Overlay: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1),
		Section: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		Stable:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Canary:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Preview: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		StatusBar: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")),
		StatusLabel: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Background(lipgloss.Color("236")),
		StatusValue: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")),
		StatusWarn: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("236")),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}
