package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/kgtutor/internal/client"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

const pollInterval = 500 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"),
	Success: lipgloss.Color("#00D787"),
	Error:   lipgloss.Color("#FF005F"),
	Hint:    lipgloss.Color("#6C6C6C"),
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the task status
type tickMsg time.Time

// taskUpdateMsg carries the updated task snapshot
type taskUpdateMsg struct {
	snap models.TaskSnapshot
	err  error
}

// progressModel is the bubbletea model for task progress.
type progressModel struct {
	client   *client.Client
	taskID   string
	snap     *models.TaskSnapshot
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, taskID string) progressModel {
	return progressModel{
		client:   c,
		taskID:   taskID,
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
	}
}

// Init fetches the first snapshot right away.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.fetchTask(), m.progress.Init())
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.done = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchTask()

	case taskUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch task status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.snap = &msg.snap

		switch m.snap.Status {
		case models.TaskCompleted:
			m.done = true
			return m, tea.Quit
		case models.TaskFailed:
			m.done = true
			m.err = errors.New(m.snap.Message)
			return m, tea.Quit
		case models.TaskCancelled:
			m.done = true
			m.err = errors.New("task was cancelled")
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.snap == nil {
		return "Loading task status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.snap.Status))
	bar := m.progress.ViewAs(float64(m.snap.Progress) / 100)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %3d%%\n%s\n%s\n", status, bar, m.snap.Progress, m.snap.Message, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nTask %s continues in background.\nUse 'kgtutor status %s' to check it.\n",
			m.taskID, m.taskID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Task %s: %s\n", m.taskID, m.err))
	}
	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.snap != nil && m.snap.Filename != "" {
		out += fmt.Sprintf("  %s indexed into %s\n", m.snap.Filename, m.snap.DBName)
	}
	return out
}

// fetchTask runs in a command so Update never blocks on the network.
func (m progressModel) fetchTask() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := m.client.TaskStatus(ctx, m.taskID)
		return taskUpdateMsg{snap: snap, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunTaskProgress shows an interactive progress view until the task is
// terminal. Ctrl+C leaves the task running and returns nil; a failed or
// cancelled task is returned as an error.
func RunTaskProgress(c *client.Client, taskID string) error {
	finalModel, err := tea.NewProgram(newProgressModel(c, taskID)).Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && !m.quitting && m.err != nil {
		return m.err
	}
	return nil
}
