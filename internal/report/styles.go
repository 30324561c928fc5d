package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Border styles
var (
	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	StyleTableBorder = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// Text styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleCell = lipgloss.NewStyle().
			Padding(0, 1)

	StyleMuted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// statusStyle picks the colour for a task status.
func statusStyle(s scheduler.TaskStatus) lipgloss.Style {
	switch s {
	case scheduler.TaskCompleted:
		return StyleStatusComplete
	case scheduler.TaskFailed, scheduler.TaskTimeout:
		return StyleStatusFailed
	case scheduler.TaskAssigned, scheduler.TaskRunning, scheduler.TaskWaitingChild:
		return StyleStatusRunning
	default:
		return StyleStatusPending
	}
}
