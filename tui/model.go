// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxLogLines bounds the scrollback kept in memory.
const maxLogLines = 2000

// refreshInterval drives the header's session counters.
const refreshInterval = time.Second

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	footStyle  = lipgloss.NewStyle().Faint(true)
)

// SessionCounter reports how many conversations have an active session
// and how many have a turn in flight. session.Manager satisfies it.
type SessionCounter interface {
	ActiveSessions() (active, pending int)
}

type tickMsg time.Time

// Model is the dashboard: a header line with the bot identity and
// session counters over a viewport of recent log lines.
type Model struct {
	userID   string
	sessions SessionCounter

	viewport viewport.Model
	lines    []string
	active   int
	pending  int
	ready    bool
	follow   bool
}

// NewModel creates the dashboard model.
func NewModel(userID string, sessions SessionCounter) Model {
	return Model{
		userID:   userID,
		sessions: sessions,
		follow:   true,
	}
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles window sizing, key presses, log lines, and the
// counter refresh tick.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 1
		footerHeight := 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if m.follow {
			m.viewport.GotoBottom()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "end":
			m.follow = true
			m.viewport.GotoBottom()
			return m, nil
		case "up", "pgup", "k":
			m.follow = false
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case logLineMsg:
		line := msg.Line
		switch {
		case msg.Level >= slog.LevelError:
			line = errorStyle.Render(line)
		case msg.Level >= slog.LevelWarn:
			line = warnStyle.Render(line)
		}
		m.lines = append(m.lines, line)
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			if m.follow {
				m.viewport.GotoBottom()
			}
		}
		return m, nil

	case tickMsg:
		if m.sessions != nil {
			m.active, m.pending = m.sessions.ActiveSessions()
		}
		return m, tick()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders header, log viewport, footer.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}
	header := headerStyle.Render(fmt.Sprintf("goosebot %s  sessions: %d  in flight: %d",
		m.userID, m.active, m.pending))
	footer := footStyle.Render("q quit · end follow · arrows scroll")
	return header + "\n" + m.viewport.View() + "\n" + footer
}
