// Package tui is the read-only operator dashboard: a Bubble Tea program
// that polls the Terminal Registry and Layout Store and renders their
// current state. It never writes to either — all mutation happens
// through the WebSocket session layer or the HTTP agent API — so it
// follows the Elm architecture of trybotster's internal/tui package
// without that package's keyboard-driven agent control.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/terminal"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	exitedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	tabStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

const pollInterval = time.Second

// Model holds the dashboard's polled snapshot.
type Model struct {
	registry *terminal.Registry
	layout   *layout.Store
	spinner  spinner.Model

	terminals []terminal.Info
	tabs      []layout.Tab
	quitting  bool
}

// New creates a dashboard Model over registry and layoutStore.
func New(registry *terminal.Registry, layoutStore *layout.Store) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle
	return Model{registry: registry, layout: layoutStore, spinner: sp}
}

type pollMsg struct {
	terminals []terminal.Info
	tabs      []layout.Tab
}

func (m Model) poll() tea.Msg {
	terminals := m.registry.List()
	sort.Slice(terminals, func(i, j int) bool { return terminals[i].ID < terminals[j].ID })
	return pollMsg{terminals: terminals, tabs: m.layout.Tabs()}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll, tick())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll, tick())

	case pollMsg:
		m.terminals = msg.terminals
		m.tabs = msg.tabs
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Freshell") + statusStyle.Render(fmt.Sprintf(" %s polling", m.spinner.View())) + "\n\n")

	b.WriteString(statusStyle.Render(fmt.Sprintf("Terminals (%d)", len(m.terminals))) + "\n")
	if len(m.terminals) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, info := range m.terminals {
		style := runningStyle
		if info.Status != terminal.StatusRunning {
			style = exitedStyle
		}
		line := fmt.Sprintf("  %-12s %-10s %-8s seq=%-6d subs=%d cwd=%s",
			shortID(info.ID), info.Mode, info.Status, info.SequenceNumber, info.SubscriberCount, info.Cwd)
		b.WriteString(style.Render(line) + "\n")
	}

	b.WriteString("\n" + statusStyle.Render(fmt.Sprintf("Tabs (%d)", len(m.tabs))) + "\n")
	if len(m.tabs) == 0 {
		b.WriteString("  (none)\n")
	}
	var rendered []string
	for _, t := range m.tabs {
		label := t.Title
		if label == "" {
			label = shortID(t.ID)
		}
		rendered = append(rendered, tabStyle.Render(label))
	}
	if len(rendered) > 0 {
		b.WriteString("  " + lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n")
	}

	b.WriteString("\n" + statusStyle.Render("q: quit (read-only — use the CLI or browser to act)"))
	return b.String()
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// Run starts the dashboard program.
func Run(registry *terminal.Registry, layoutStore *layout.Store) error {
	p := tea.NewProgram(New(registry, layoutStore), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
