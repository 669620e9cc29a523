package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsyeh/coursepilot/internal/models"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	stateActive      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	stateDrained     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	stateInterrupted = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	stateFatal       = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

// RunItem implements list.Item for the run list
type RunItem struct {
	models.RunRecord
}

func (i RunItem) FilterValue() string { return string(i.Mode) + " " + i.ID }
func (i RunItem) Title() string {
	return fmt.Sprintf("%s  %s", i.StartedAt.Local().Format(timeLayout), i.Mode)
}
func (i RunItem) Description() string {
	return fmt.Sprintf("%s • %d completed • %d failed • %s",
		formatState(i.State), i.Completed, i.Failed, shortID(i.ID))
}

const timeLayout = "2006-01-02 15:04:05"

func formatState(state models.RunState) string {
	switch state {
	case models.StateDrained:
		return stateDrained.Render("● " + string(state))
	case models.StateInterrupted:
		return stateInterrupted.Render("● " + string(state))
	case models.StateFatalAuth:
		return stateFatal.Render("● " + string(state))
	case "":
		return ""
	default:
		return stateActive.Render("● " + string(state))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunListModel manages the run list screen
type RunListModel struct {
	source      Source
	list        list.Model
	runs        []models.RunRecord
	filterIndex int
	width       int
	height      int
	loading     bool
}

var filters = []models.RunState{"", models.StateDrained, models.StateInterrupted, models.StateFatalAuth}
var filterLabels = []string{"all", "drained", "interrupted", "fatal auth"}

// NewRunListModel creates a new run list model
func NewRunListModel(source Source) *RunListModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Runs"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = listTitleStyle

	return &RunListModel{
		source: source,
		list:   l,
	}
}

// Init loads the runs
func (m *RunListModel) Init() tea.Cmd {
	return m.Refresh()
}

// SetSize sets the list dimensions
func (m *RunListModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.list.SetSize(w, h)
}

// SelectedRun returns the currently selected run
func (m *RunListModel) SelectedRun() *models.RunRecord {
	if item, ok := m.list.SelectedItem().(RunItem); ok {
		run := item.RunRecord
		return &run
	}
	return nil
}

// Filtering reports whether the list is capturing keys for its filter input.
func (m *RunListModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// CycleFilter cycles through state filters
func (m *RunListModel) CycleFilter() {
	m.filterIndex = (m.filterIndex + 1) % len(filters)
	m.list.Title = fmt.Sprintf("Runs [%s]", filterLabels[m.filterIndex])
	m.setItems()
}

// Refresh reloads runs from the ledger
func (m *RunListModel) Refresh() tea.Cmd {
	m.loading = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs, err := m.source.ListRuns(ctx, DefaultLimit)
		if err != nil {
			return errMsg{err}
		}
		return runsLoadedMsg{runs}
	}
}

// Update handles messages
func (m *RunListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runsLoadedMsg:
		m.loading = false
		m.runs = msg.runs
		m.setItems()
		return m, nil

	case errMsg:
		m.loading = false
		return m, nil

	case tea.KeyMsg:
		if !m.Filtering() {
			switch msg.String() {
			case "r":
				return m, m.Refresh()
			case "tab":
				m.CycleFilter()
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the run list
func (m *RunListModel) View() string {
	if m.loading {
		return "Loading runs..."
	}
	return m.list.View()
}

func (m *RunListModel) setItems() {
	want := filters[m.filterIndex]
	items := make([]list.Item, 0, len(m.runs))
	for _, r := range m.runs {
		if want == "" || r.State == want {
			items = append(items, RunItem{r})
		}
	}
	m.list.SetItems(items)
}
