// Package tui provides the terminal browser for recorded runs.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	appTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)
)

type mode int

const (
	modeList mode = iota
	modeDetail
)

// App is the history browser model.
type App struct {
	list    *RunListModel
	detail  *RunDetailModel
	mode    mode
	width   int
	height  int
	message string
}

// New creates a history browser reading from source.
func New(source Source) *App {
	return &App{
		list:   NewRunListModel(source),
		detail: NewRunDetailModel(source),
	}
}

// Run starts the browser and blocks until it exits.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return a.list.Init()
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		// title, status bar and help line
		body := msg.Height - 3
		if body < 1 {
			body = 1
		}
		a.list.SetSize(msg.Width, body)
		a.detail.SetSize(msg.Width, body)
		return a, nil

	case errMsg:
		a.message = msg.Error()
		a.list.Update(msg)
		return a, nil

	case runsLoadedMsg:
		a.message = ""
		_, cmd := a.list.Update(msg)
		return a, cmd

	case runDetailLoadedMsg:
		a.message = ""
		_, cmd := a.detail.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.mode == modeDetail {
			switch msg.String() {
			case "esc", "backspace":
				a.mode = modeList
				return a, nil
			case "q":
				return a, tea.Quit
			}
			_, cmd := a.detail.Update(msg)
			return a, cmd
		}
		if !a.list.Filtering() {
			switch msg.String() {
			case "q":
				return a, tea.Quit
			case "enter":
				run := a.list.SelectedRun()
				if run == nil {
					return a, nil
				}
				a.mode = modeDetail
				a.detail.SetRun(run.ID)
				return a, a.detail.Refresh()
			}
		}
	}

	if a.mode == modeDetail {
		_, cmd := a.detail.Update(msg)
		return a, cmd
	}
	_, cmd := a.list.Update(msg)
	return a, cmd
}

// View implements tea.Model
func (a *App) View() string {
	var body, help string
	if a.mode == modeDetail {
		body = a.detail.View()
		help = "↑/↓ scroll • r refresh • esc back • q quit"
	} else {
		body = a.list.View()
		help = "enter details • tab state filter • / search • r refresh • q quit"
	}

	status := "coursepilot run history"
	if a.message != "" {
		status = errorStyle.Render(a.message)
	}

	bar := statusBarStyle
	if a.width > 0 {
		bar = bar.Width(a.width)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		appTitleStyle.Render("coursepilot"),
		body,
		bar.Render(status),
		helpStyle.Render(help),
	)
}
