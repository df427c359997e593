package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	fetchTimeout    = 5 * time.Second
)

// StoreReading is one store row of the dashboard.
type StoreReading struct {
	Name      string
	Kind      string
	Online    bool
	LastError string
}

// Reading is what the dashboard renders on each refresh.
type Reading struct {
	State            string
	Root             string
	Uptime           int64
	Stores           []StoreReading
	Documents        int
	Shards           int
	QueriesProcessed int64
	PartialQueries   int64
	Violations       int64
	Fixed            int64
	Failed           int64
	Skipped          int64
	MonitorSkipped   int64
	At               time.Time
}

// Online counts online stores.
func (r Reading) Online() int {
	n := 0
	for _, s := range r.Stores {
		if s.Online {
			n++
		}
	}
	return n
}

// Fetcher loads one Reading, typically from the daemon's status endpoint.
type Fetcher func(ctx context.Context) (Reading, error)

// Model is the BubbleTea dashboard model.
type Model struct {
	source     string
	fetch      Fetcher
	interval   time.Duration
	lastUpdate time.Time
	reading    Reading
	err        error
	quitting   bool

	queryRateHistory []float64
	onlineHistory    []float64

	storeProgress progress.Model
	fixProgress   progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard that refreshes from fetch every interval.
// source is shown in the error view.
func NewModel(source string, fetch Fetcher, interval time.Duration) Model {
	return Model{
		source:   source,
		fetch:    fetch,
		interval: interval,
		storeProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		fixProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		queryRateHistory: make([]float64, 0, historySize),
		onlineHistory:    make([]float64, 0, historySize),
	}
}

// getStatusBadge returns the overall badge for a reading.
func getStatusBadge(r Reading) string {
	switch {
	case r.State != "ready":
		return warningStyle.Render("⚠ " + r.State)
	case len(r.Stores) > 0 && r.Online() == 0:
		return errorStyle.Render("✗ NO STORES")
	case r.Online() < len(r.Stores):
		return warningStyle.Render("⚠ DEGRADED")
	default:
		return healthyStyle.Render("✓ HEALTHY")
	}
}

func storeBadge(online bool) string {
	if online {
		return healthyStyle.Render("[✓]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type readingMsg Reading
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetchReading(m.fetch))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchReading(fetch Fetcher) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		r, err := fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		if r.At.IsZero() {
			r.At = time.Now()
		}
		return readingMsg(r)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchReading(m.fetch)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetchReading(m.fetch))

	case readingMsg:
		next := Reading(msg)
		m.queryRateHistory = appendToHistory(m.queryRateHistory, m.queryRate(next))
		m.onlineHistory = appendToHistory(m.onlineHistory, float64(next.Online()))
		m.reading = next
		m.lastUpdate = next.At
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// queryRate derives queries per minute from the previous reading. A counter
// that went backwards means the daemon restarted.
func (m Model) queryRate(next Reading) float64 {
	if m.lastUpdate.IsZero() {
		return 0
	}
	elapsed := next.At.Sub(m.lastUpdate).Minutes()
	delta := next.QueriesProcessed - m.reading.QueriesProcessed
	if elapsed <= 0 || delta < 0 {
		return 0
	}
	return float64(delta) / elapsed
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("federated dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the federated daemon") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.source) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start it with: federated --root <dir>") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	r := m.reading
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Local().Format("3:04:05 PM")
	}
	content += headerStyle.Render(" federated ") + "\n"
	content += fmt.Sprintf("%s   %s %s   %s\n",
		getStatusBadge(r),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatUptime(r.Uptime)),
		dimStyle.Render(lastUpdateStr))
	if r.Root != "" {
		content += dimStyle.Render("  "+r.Root) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Stores") + "\n"
	online := r.Online()
	ratio := 0.0
	if len(r.Stores) > 0 {
		ratio = float64(online) / float64(len(r.Stores))
	}
	content += labelStyle.Render("  Online: ") +
		valueStyle.Render(FormatRatio(online, len(r.Stores))) +
		"   " + createSparkline(m.onlineHistory) + "\n"
	content += labelStyle.Render("  Availability: ") +
		m.storeProgress.ViewAs(ratio) +
		" " + dimStyle.Render(FormatPercentage(ratio)) + "\n"

	stores := append([]StoreReading(nil), r.Stores...)
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	for _, s := range stores {
		line := "  " + storeBadge(s.Online) + " " + valueStyle.Render(s.Name) + " " + dimStyle.Render(s.Kind)
		if !s.Online && s.LastError != "" {
			line += " " + errorStyle.Render(s.LastError)
		}
		content += line + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Search") + "\n"
	rate := 0.0
	if n := len(m.queryRateHistory); n > 0 {
		rate = m.queryRateHistory[n-1]
	}
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(rate)) +
		"   " + createSparkline(m.queryRateHistory) + "\n"
	content += labelStyle.Render("  Queries: ") +
		valueStyle.Render(FormatCount(r.QueriesProcessed)) +
		dimStyle.Render(fmt.Sprintf("  (%s partial)", FormatCount(r.PartialQueries))) + "\n"
	content += labelStyle.Render("  Documents: ") +
		valueStyle.Render(FormatCount(int64(r.Documents))) +
		dimStyle.Render(fmt.Sprintf("  across %d shards", r.Shards)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Rules") + "\n"
	attempted := r.Fixed + r.Failed
	fixRatio := 0.0
	if attempted > 0 {
		fixRatio = float64(r.Fixed) / float64(attempted)
	}
	content += labelStyle.Render("  Violations: ") +
		valueStyle.Render(FormatCount(r.Violations)) +
		dimStyle.Render(fmt.Sprintf("  fixed %d  failed %d  skipped %d", r.Fixed, r.Failed, r.Skipped)) + "\n"
	content += labelStyle.Render("  Fix rate: ") +
		m.fixProgress.ViewAs(fixRatio) +
		" " + dimStyle.Render(FormatPercentage(fixRatio)) + "\n"
	if r.MonitorSkipped > 0 {
		content += labelStyle.Render("  Skipped ticks: ") + warningStyle.Render(fmt.Sprintf("%d", r.MonitorSkipped)) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}
