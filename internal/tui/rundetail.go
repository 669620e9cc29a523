package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsyeh/coursepilot/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// RunDetailModel shows one run with its attempts and notifications.
type RunDetailModel struct {
	source        Source
	runID         string
	run           *models.RunRecord
	attempts      []models.AttemptRecord
	notifications []models.NotificationRecord
	viewport      viewport.Model
	loading       bool
}

// NewRunDetailModel creates a new run detail model
func NewRunDetailModel(source Source) *RunDetailModel {
	return &RunDetailModel{
		source:   source,
		viewport: viewport.New(80, 20),
	}
}

// Init initializes the run detail model
func (m *RunDetailModel) Init() tea.Cmd {
	return nil
}

// SetRun sets the run to display
func (m *RunDetailModel) SetRun(id string) {
	m.runID = id
	m.run = nil
	m.attempts = nil
	m.notifications = nil
	m.viewport.GotoTop()
}

// SetSize sets the dimensions
func (m *RunDetailModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
	if m.run != nil {
		m.viewport.SetContent(m.render())
	}
}

// Refresh loads the run details
func (m *RunDetailModel) Refresh() tea.Cmd {
	m.loading = true
	id := m.runID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		run, err := m.source.GetRun(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		attempts, _ := m.source.AttemptsForRun(ctx, id)
		notifications, _ := m.source.NotificationsForRun(ctx, id)
		return runDetailLoadedMsg{run, attempts, notifications}
	}
}

// Update handles messages
func (m *RunDetailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runDetailLoadedMsg:
		if msg.run == nil || msg.run.ID != m.runID {
			return m, nil
		}
		m.loading = false
		m.run = msg.run
		m.attempts = msg.attempts
		m.notifications = msg.notifications
		m.viewport.SetContent(m.render())
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			return m, m.Refresh()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the run detail
func (m *RunDetailModel) View() string {
	if m.loading || m.run == nil {
		return "Loading run details..."
	}
	return m.viewport.View()
}

func (m *RunDetailModel) render() string {
	var b strings.Builder
	run := m.run

	b.WriteString(headerStyle.Render(fmt.Sprintf("Run %s", shortID(run.ID))))
	b.WriteString("\n\n")

	b.WriteString(renderField("ID", run.ID))
	b.WriteString(renderField("Mode", string(run.Mode)))
	b.WriteString(renderField("State", formatState(run.State)))
	b.WriteString(renderField("Started", run.StartedAt.Local().Format(timeLayout)))
	if run.EndedAt != nil {
		b.WriteString(renderField("Ended", run.EndedAt.Local().Format(timeLayout)))
		b.WriteString(renderField("Duration", run.EndedAt.Sub(run.StartedAt).Truncate(time.Second).String()))
		b.WriteString(renderField("Exit code", fmt.Sprintf("%d", run.ExitCode)))
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Attempts (%d)", len(m.attempts))))
	b.WriteString("\n")
	for _, a := range m.attempts {
		target := a.ItemID
		if a.ParentID != "" {
			target = a.ParentID + "/" + a.ItemID
		}
		b.WriteString(fmt.Sprintf("  %s %-6s %s\n", formatOutcome(a.Outcome), a.Kind, target))
		if a.Error != "" {
			b.WriteString(fmt.Sprintf("    → %s\n", truncate(a.Error, 100)))
		}
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Notifications (%d)", len(m.notifications))))
	b.WriteString("\n")
	for _, n := range m.notifications {
		delivery := stateDrained.Render("sent")
		switch {
		case !n.Delivered:
			delivery = labelStyle.Render("suppressed")
		case n.Failures > 0:
			delivery = stateFatal.Render(fmt.Sprintf("%d failed", n.Failures))
		}
		b.WriteString(fmt.Sprintf("  %s %s [%s]\n", n.CreatedAt.Local().Format("15:04:05"), n.Subject, delivery))
	}

	return b.String()
}

func formatOutcome(o models.AttemptOutcome) string {
	switch o {
	case models.OutcomeCompleted:
		return stateDrained.Render("✓")
	case models.OutcomeVerification:
		return stateInterrupted.Render("?")
	case models.OutcomeInterrupted:
		return stateInterrupted.Render("-")
	default:
		return stateFatal.Render("✗")
	}
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
