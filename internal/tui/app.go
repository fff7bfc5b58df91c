// internal/tui/app.go
//
// Watch view for a running control loop. It follows The Elm Architecture:
// the model holds the latest tick report, Update folds messages into it and
// View renders the node table above the journal tail.

package tui

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/harvester/internal/logbook"
	"github.com/kingrea/harvester/internal/orchestrator"
	"github.com/kingrea/harvester/internal/report"
)

const (
	defaultRefreshInterval = 500 * time.Millisecond
	logTailLines           = 6
)

// Source is the loop state the view polls. *orchestrator.Loop satisfies it.
type Source interface {
	RunID() string
	Running() bool
	Last() (orchestrator.TickReport, bool)
	Rediscover()
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithLogbook shows the tail of book under the table.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = book
	}
}

// WithRefreshInterval changes how often the view polls the loop.
func WithRefreshInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.refresh = d
		}
	}
}

type refreshMsg struct {
	report orchestrator.TickReport
	ok     bool
}

var columns = []table.Column{
	{Title: "Node", Width: 20},
	{Title: "State", Width: 15},
	{Title: "Outcome", Width: 18},
	{Title: "Threads", Width: 8},
	{Title: "Security", Width: 14},
	{Title: "Money", Width: 24},
}

// App is the watch model.
type App struct {
	source  Source
	logbook *logbook.Logbook
	refresh time.Duration

	table     table.Model
	last      orchestrator.TickReport
	hasReport bool
	statusMsg string

	width  int
	height int
}

// NewApp builds the watch view over source.
func NewApp(source Source, opts ...AppOption) (*App, error) {
	if source == nil {
		return nil, fmt.Errorf("tui: source is required")
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF"))
	t.SetStyles(styles)

	app := &App{
		source:    source,
		refresh:   defaultRefreshInterval,
		table:     t,
		statusMsg: "Waiting for the first tick...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app, nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.poll()
}

func (a *App) poll() tea.Cmd {
	return func() tea.Msg {
		r, ok := a.source.Last()
		return refreshMsg{report: r, ok: ok}
	}
}

func (a *App) schedulePoll() tea.Cmd {
	return tea.Tick(a.refresh, func(time.Time) tea.Msg {
		r, ok := a.source.Last()
		return refreshMsg{report: r, ok: ok}
	})
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.table.SetHeight(max(5, msg.Height-logTailLines-8))
		return a, nil

	case refreshMsg:
		if msg.ok && (!a.hasReport || msg.report.Tick != a.last.Tick) {
			a.last = msg.report
			a.hasReport = true
			a.table.SetRows(Rows(msg.report))
			a.statusMsg = summary(msg.report)
		}
		if !a.source.Running() && a.hasReport {
			a.statusMsg = summary(a.last) + " · loop stopped"
		}
		return a, a.schedulePoll()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return a, tea.Quit
		case "r":
			a.source.Rediscover()
			a.statusMsg = "Re-discovery requested for the next tick"
			return a, nil
		}
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// View renders the current state.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(fmt.Sprintf("⬡ HARVESTER · run %s", shortID(a.source.RunID())))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Render(a.table.View())
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg + "\n" + "r → rediscover    q → quit")
	parts := []string{header, box}
	if panel := a.renderLogPanel(); panel != "" {
		parts = append(parts, panel)
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(logTailLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

// Rows flattens a tick report into table rows in discovery order.
func Rows(r orchestrator.TickReport) []table.Row {
	rows := make([]table.Row, 0, len(r.Nodes))
	for _, n := range r.Nodes {
		threads := ""
		if n.Launch != nil && n.Launch.Threads > 0 {
			threads = strconv.Itoa(n.Launch.Threads)
		}
		security := ""
		money := ""
		if n.Snapshot.Hostname != "" {
			security = fmt.Sprintf("%.2f/%.2f", n.Snapshot.SecurityLevel, n.Snapshot.MinSecurityLevel)
			money = report.FormatMoney(n.Snapshot.MoneyAvailable) + "/" + report.FormatMoney(n.Snapshot.MaxMoney)
		}
		state := string(n.State)
		if state == "" {
			state = "-"
		}
		rows = append(rows, table.Row{n.Host, state, outcome(n), threads, security, money})
	}
	return rows
}

func outcome(n orchestrator.NodeReport) string {
	switch {
	case n.Skip != nil:
		return "skip: " + string(n.Skip.Reason)
	case n.Failed():
		return fmt.Sprintf("%s failed: %s", n.Stage, n.Kind)
	case n.Launch != nil:
		return fmt.Sprintf("%s (%s)", n.Launch.Action, n.Launch.Status)
	case n.Decision != nil:
		return string(n.Decision.Action)
	default:
		return string(n.Stage)
	}
}

func summary(r orchestrator.TickReport) string {
	line := fmt.Sprintf("Tick %d · %d nodes · %d rooted · %d launched · %d skipped · %d failed",
		r.Tick, len(r.Nodes), r.Rooted(), r.Launched(), r.Skipped(), r.Failures())
	if r.DiscoveryError != "" {
		line += " · discovery: " + r.DiscoveryError
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
