// Package ui provides a terminal dashboard for watching the task queue.
// Uses Bubbletea for the live refresh loop and lipgloss for styling.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nathandonaldson/storytriage/internal/queue"
)

// StatsFunc fetches a fresh stats snapshot.
type StatsFunc func(ctx context.Context) (*queue.Stats, error)

// Styles holds lipgloss styles for the dashboard.
type Styles struct {
	Border    lipgloss.Style
	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	StatusOK  lipgloss.Style
	StatusBad lipgloss.Style
	Muted     lipgloss.Style
	HelpKey   lipgloss.Style
	HelpText  lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}

	return &Styles{
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(0, 2),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusBad: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// statsMsg carries the result of a stats fetch.
type statsMsg struct {
	stats *queue.Stats
	err   error
}

// Model holds the dashboard state.
type Model struct {
	fetch    StatsFunc
	interval time.Duration

	width    int
	height   int
	quitting bool

	stats     *queue.Stats
	fetchErr  error
	updatedAt time.Time

	styles *Styles
}

// New creates a dashboard refreshing with the given fetch function.
func New(fetch StatsFunc, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Model{
		fetch:    fetch,
		interval: interval,
		width:    80,
		height:   24,
		styles:   newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchCmd(),
		m.tickCmd(),
		tea.EnterAltScreen,
	)
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stats, err := m.fetch(ctx)
		return statsMsg{stats: stats, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case statsMsg:
		m.fetchErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.updatedAt = time.Now()
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Story Triage Queue"))
	b.WriteString("\n")

	if m.fetchErr != nil {
		b.WriteString(m.styles.StatusBad.Render("fetch error: " + m.fetchErr.Error()))
		b.WriteString("\n")
	}

	if m.stats == nil {
		b.WriteString(m.styles.Muted.Render("loading..."))
	} else {
		var queued int64
		for _, typ := range queue.AllTypes() {
			n := m.stats.Queued[typ]
			queued += n
			b.WriteString(m.row(string(typ), fmt.Sprintf("%d", n)))
		}
		b.WriteString("\n")
		b.WriteString(m.row("queued", fmt.Sprintf("%d", queued)))
		b.WriteString(m.row("processing", fmt.Sprintf("%d", m.stats.Processing)))
		b.WriteString(m.statusRow("completed", m.stats.Completed, m.styles.StatusOK))
		b.WriteString(m.statusRow("failed", m.stats.Failed, m.styles.StatusBad))
	}

	if !m.updatedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("updated " + m.updatedAt.Format("15:04:05")))
	}

	panel := m.styles.Border.Render(b.String())

	help := strings.Join([]string{
		m.styles.HelpKey.Render("r") + m.styles.HelpText.Render(" refresh"),
		m.styles.HelpKey.Render("q") + m.styles.HelpText.Render(" quit"),
	}, m.styles.HelpText.Render("  •  "))

	return lipgloss.JoinVertical(lipgloss.Left, panel, help)
}

func (m Model) row(label, value string) string {
	return fmt.Sprintf("%s %s\n",
		m.styles.Label.Render(fmt.Sprintf("%-14s", label)),
		m.styles.Value.Render(value))
}

func (m Model) statusRow(label string, n int64, style lipgloss.Style) string {
	return fmt.Sprintf("%s %s\n",
		m.styles.Label.Render(fmt.Sprintf("%-14s", label)),
		style.Render(fmt.Sprintf("%d", n)))
}

// Run starts the dashboard and blocks until the user quits.
func Run(fetch StatsFunc, interval time.Duration) error {
	p := tea.NewProgram(New(fetch, interval))
	_, err := p.Run()
	return err
}
