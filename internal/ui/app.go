package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/otel"
)

const (
	defaultMaxIncidents = 50
	defaultActivityRows = 8
	clockInterval       = 15 * time.Second
)

// Options configures the board.
type Options struct {
	Title        string // usually the locale display name
	Bands        notify.Bands
	MaxIncidents int
	ActivityRows int
	Ring         *otel.RingBuffer // journal tail for the debug overlay; optional
}

// App is the root Bubble Tea model.
// IMPORTANT: App does NOT hold the engine. It rebuilds its view from the
// snapshots carried by messages.
type App struct {
	opts Options

	incidents map[int64]correlation.Incident
	order     []int64 // most recently active first
	cursor    int
	expanded  bool

	activity  []DecisionMsg
	producers map[string]CollectMsg
	stats     StatsMsg
	lastErr   error

	spinner   spinner.Model
	showDebug bool
	width     int
	height    int
	ready     bool
	now       func() time.Time
}

// NewApp creates the board.
func NewApp(opts Options) App {
	if opts.MaxIncidents <= 0 {
		opts.MaxIncidents = defaultMaxIncidents
	}
	if opts.ActivityRows <= 0 {
		opts.ActivityRows = defaultActivityRows
	}
	if opts.Bands == (notify.Bands{}) {
		opts.Bands = notify.DefaultBands
	}
	if opts.Title == "" {
		opts.Title = "icewatch"
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	return App{
		opts:      opts,
		incidents: make(map[int64]correlation.Incident),
		producers: make(map[string]CollectMsg),
		spinner:   s,
		now:       time.Now,
	}
}

// Init starts the spinner and the clock refresh.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, tickClock())
}

func tickClock() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg { return clockTick(t) })
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		return a, nil

	case IncidentMsg:
		inc := msg.Event.Incident
		a.incidents[inc.ClusterID] = inc
		a.reorder()
		return a, nil

	case ClosedMsg:
		for _, inc := range msg.Incidents {
			a.incidents[inc.ClusterID] = inc
		}
		a.reorder()
		return a, nil

	case DecisionMsg:
		a.activity = append(a.activity, msg)
		if over := len(a.activity) - a.opts.ActivityRows; over > 0 {
			a.activity = append([]DecisionMsg(nil), a.activity[over:]...)
		}
		return a, nil

	case CollectMsg:
		a.producers[msg.Cycle.Producer] = msg
		if msg.Cycle.Err != nil {
			a.lastErr = fmt.Errorf("%s: %w", msg.Cycle.Producer, msg.Cycle.Err)
		}
		return a, nil

	case StatsMsg:
		a.stats = msg
		return a, nil

	case clockTick:
		return a, tickClock()

	case spinner.TickMsg:
		if !a.waiting() {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// waiting reports whether no collection pass has finished yet.
func (a App) waiting() bool {
	return len(a.producers) == 0
}

// reorder sorts incidents open first, then by latest report, and trims the
// oldest closed incidents beyond MaxIncidents.
func (a *App) reorder() {
	selected := a.selectedID()

	ids := make([]int64, 0, len(a.incidents))
	for id := range a.incidents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		x, y := a.incidents[ids[i]], a.incidents[ids[j]]
		if (x.Status == correlation.StatusClosed) != (y.Status == correlation.StatusClosed) {
			return x.Status != correlation.StatusClosed
		}
		if !x.LatestReport.Equal(y.LatestReport) {
			return x.LatestReport.After(y.LatestReport)
		}
		return x.ClusterID > y.ClusterID
	})
	for len(ids) > a.opts.MaxIncidents {
		delete(a.incidents, ids[len(ids)-1])
		ids = ids[:len(ids)-1]
	}
	a.order = ids

	// Keep the cursor on the same incident when possible.
	a.cursor = 0
	for i, id := range ids {
		if id == selected {
			a.cursor = i
			break
		}
	}
}

func (a App) selectedID() int64 {
	if a.cursor < len(a.order) {
		return a.order[a.cursor]
	}
	return 0
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.lastErr = nil

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.cursor < len(a.order)-1 {
			a.cursor++
		}

	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}

	case "g", "home":
		a.cursor = 0

	case "G", "end":
		if len(a.order) > 0 {
			a.cursor = len(a.order) - 1
		}

	case "enter", " ":
		a.expanded = !a.expanded

	case "D":
		a.showDebug = !a.showDebug
	}
	return a, nil
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}
	if a.showDebug {
		return debugOverlay(a.opts.Ring, a.stats, a.width, a.height) + "\n" + debugStatusBar(a.width)
	}

	var b strings.Builder
	b.WriteString(a.header())
	b.WriteString("\n")
	b.WriteString(a.renderIncidents())
	b.WriteString(SectionHeader.Render("Recent reports"))
	b.WriteString("\n")
	b.WriteString(a.renderActivity())
	if a.lastErr != nil {
		b.WriteString(ErrorStyle.Width(a.width).Render("Error: " + a.lastErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(a.statusBar())
	return b.String()
}

func (a App) header() string {
	open := 0
	for _, inc := range a.incidents {
		if inc.Status != correlation.StatusClosed {
			open++
		}
	}
	title := fmt.Sprintf("ICE ACTIVITY | %s | %d open, %d closed", a.opts.Title, open, len(a.incidents)-open)
	if a.waiting() {
		title += "  " + a.spinner.View() + " collecting"
	}
	return TitleBar.Width(a.width).Render(title)
}

func (a App) renderIncidents() string {
	if len(a.order) == 0 {
		return MutedText.Render("  No incidents yet.") + "\n"
	}
	var b strings.Builder
	for i, id := range a.order {
		inc := a.incidents[id]
		line := a.incidentLine(inc)
		switch {
		case i == a.cursor:
			b.WriteString(SelectedItem.Width(a.width).Render(line))
		case inc.Status == correlation.StatusClosed:
			b.WriteString(ClosedItem.Render(line))
		default:
			b.WriteString(NormalItem.Render(line))
		}
		b.WriteString("\n")
		if i == a.cursor && a.expanded {
			b.WriteString(a.renderReports(inc))
		}
	}
	return b.String()
}

func (a App) incidentLine(inc correlation.Incident) string {
	band := a.opts.Bands.Of(inc.ConfidenceScore)
	loc := inc.PrimaryLocation
	if loc == "" {
		loc = "unknown location"
	}
	platforms := make([]string, len(inc.UniqueSourceTypes))
	for i, t := range inc.UniqueSourceTypes {
		platforms[i] = t.Label()
	}
	line := fmt.Sprintf("%s #%d %s  %d reports  %s  %s",
		BandStyle(band).Render(string(band)),
		inc.ClusterID,
		loc,
		inc.SourceCount,
		strings.Join(platforms, ", "),
		MutedText.Render(formatAge(a.now().Sub(inc.LatestReport))+" ago"),
	)
	if inc.Status == correlation.StatusClosed {
		line += MutedText.Render("  closed")
	}
	return line
}

func (a App) renderReports(inc correlation.Incident) string {
	var b strings.Builder
	for _, r := range inc.Reports {
		author := r.Author
		if author == "" {
			author = "unknown"
		}
		b.WriteString("    ")
		b.WriteString(SourceBadge.Render(r.SourceType.Label()))
		b.WriteString(MutedText.Render(r.Timestamp.Local().Format("15:04") + " " + author + ": "))
		b.WriteString(r.Excerpt(a.excerptWidth()))
		b.WriteString("\n")
	}
	return b.String()
}

func (a App) renderActivity() string {
	if len(a.activity) == 0 {
		return MutedText.Render("  Waiting for reports...") + "\n"
	}
	var b strings.Builder
	for i := len(a.activity) - 1; i >= 0; i-- {
		d := a.activity[i]
		var verdict string
		switch {
		case d.Duplicate:
			verdict = MutedText.Render("dup")
		case d.Verdict.Relevant:
			verdict = AcceptedText.Render(fmt.Sprintf("#%d", d.ClusterID))
		default:
			verdict = MutedText.Render(string(d.Verdict.Reason))
		}
		fmt.Fprintf(&b, "  %s %s  %s\n",
			SourceBadge.Render(d.Report.SourceType.Label()),
			truncateRunes(d.Report.Excerpt(200), a.excerptWidth()),
			verdict)
	}
	return b.String()
}

func (a App) excerptWidth() int {
	w := a.width - 40
	if w < 30 {
		w = 30
	}
	return w
}

func (a App) statusBar() string {
	keys := StatusBarKey.Render("j/k") + StatusBarText.Render(":move ") +
		StatusBarKey.Render("enter") + StatusBarText.Render(":reports ") +
		StatusBarKey.Render("D") + StatusBarText.Render(":journal ") +
		StatusBarKey.Render("q") + StatusBarText.Render(":quit")
	info := fmt.Sprintf("  %d sources  %d ingested  %d dup  %d sent",
		len(a.producers), a.stats.Engine.ReportsIngested, a.stats.Engine.Duplicates, a.stats.Notify.Delivered)
	return StatusBar.Width(a.width).Render(keys + StatusBarText.Render(info))
}

// Cursor returns the current cursor position (for testing).
func (a App) Cursor() int {
	return a.cursor
}

// Incidents returns the displayed incidents in order (for testing).
func (a App) Incidents() []correlation.Incident {
	out := make([]correlation.Incident, len(a.order))
	for i, id := range a.order {
		out[i] = a.incidents[id]
	}
	return out
}

// truncateRunes shortens s to at most n runes, marking the cut.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
