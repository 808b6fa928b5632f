package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/icewatch/internal/collect"
	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/relevance"
)

var t0 = time.Date(2026, 1, 10, 16, 0, 0, 0, time.UTC)

func incident(id int64, latest time.Time, confidence float64) correlation.Incident {
	r := model.RawReport{
		SourceType: model.SourceReddit,
		SourceID:   "r1",
		Author:     "someone",
		Text:       "ICE agents on Lake Street right now",
		Timestamp:  latest,
	}
	return correlation.Incident{
		ClusterID:         id,
		PrimaryLocation:   "Lake Street",
		EarliestReport:    latest,
		LatestReport:      latest,
		Reports:           []model.RawReport{r},
		SourceCount:       1,
		UniqueSourceTypes: []model.SourceType{model.SourceReddit},
		ConfidenceScore:   confidence,
		Status:            correlation.StatusOpen,
	}
}

func ready(t *testing.T) App {
	t.Helper()
	app := NewApp(Options{Title: "Minneapolis"})
	app.now = func() time.Time { return t0.Add(10 * time.Minute) }
	m, _ := app.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return m.(App)
}

func send(t *testing.T, a App, msgs ...tea.Msg) App {
	t.Helper()
	var m tea.Model = a
	for _, msg := range msgs {
		m, _ = m.Update(msg)
	}
	return m.(App)
}

func ids(incs []correlation.Incident) []int64 {
	out := make([]int64, len(incs))
	for i, inc := range incs {
		out[i] = inc.ClusterID
	}
	return out
}

func TestViewBeforeReady(t *testing.T) {
	assert.Equal(t, "Loading...", NewApp(Options{}).View())
}

func TestInitReturnsCommands(t *testing.T) {
	assert.NotNil(t, NewApp(Options{}).Init())
}

func TestIncidentMessagesOrderByActivity(t *testing.T) {
	a := send(t, ready(t),
		IncidentMsg{Event: correlation.Event{Kind: correlation.KindNew, Incident: incident(1, t0, 0.25)}},
		IncidentMsg{Event: correlation.Event{Kind: correlation.KindNew, Incident: incident(2, t0.Add(time.Minute), 0.25)}},
	)
	assert.Equal(t, []int64{2, 1}, ids(a.Incidents()))

	upd := incident(1, t0.Add(5*time.Minute), 0.55)
	upd.SourceCount = 2
	a = send(t, a, IncidentMsg{Event: correlation.Event{Kind: correlation.KindUpdate, Incident: upd}})
	assert.Equal(t, []int64{1, 2}, ids(a.Incidents()))
	assert.Equal(t, 2, a.Incidents()[0].SourceCount)
}

func TestClosedIncidentsSortLast(t *testing.T) {
	a := send(t, ready(t),
		IncidentMsg{Event: correlation.Event{Incident: incident(1, t0.Add(time.Hour), 0.25)}},
		IncidentMsg{Event: correlation.Event{Incident: incident(2, t0, 0.25)}},
	)
	closed := incident(1, t0.Add(time.Hour), 0.25)
	closed.Status = correlation.StatusClosed
	a = send(t, a, ClosedMsg{Incidents: []correlation.Incident{closed}})

	assert.Equal(t, []int64{2, 1}, ids(a.Incidents()))
	assert.Contains(t, a.View(), "1 open, 1 closed")
}

func TestCursorFollowsSelectedIncident(t *testing.T) {
	a := send(t, ready(t),
		IncidentMsg{Event: correlation.Event{Incident: incident(1, t0, 0.25)}},
		IncidentMsg{Event: correlation.Event{Incident: incident(2, t0.Add(time.Minute), 0.25)}},
		tea.KeyMsg{Type: tea.KeyDown},
	)
	require.Equal(t, 1, a.Cursor())
	require.Equal(t, int64(1), a.selectedID())

	a = send(t, a, IncidentMsg{Event: correlation.Event{Incident: incident(1, t0.Add(2*time.Minute), 0.34)}})
	assert.Equal(t, 0, a.Cursor())
	assert.Equal(t, int64(1), a.selectedID())
}

func TestNavigationBounds(t *testing.T) {
	a := send(t, ready(t),
		IncidentMsg{Event: correlation.Event{Incident: incident(1, t0, 0.25)}},
		IncidentMsg{Event: correlation.Event{Incident: incident(2, t0.Add(time.Minute), 0.25)}},
		IncidentMsg{Event: correlation.Event{Incident: incident(3, t0.Add(2*time.Minute), 0.25)}},
	)

	require.Equal(t, 2, a.Cursor(), "cursor stays on the first incident")

	a = send(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")}, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, a.Cursor())

	a = send(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	assert.Equal(t, 2, a.Cursor())

	a = send(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 2, a.Cursor())

	a = send(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	assert.Equal(t, 1, a.Cursor())
}

func TestMaxIncidentsTrimsOldest(t *testing.T) {
	app := NewApp(Options{MaxIncidents: 2})
	m, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	a := send(t, m.(App),
		IncidentMsg{Event: correlation.Event{Incident: incident(1, t0, 0.25)}},
		IncidentMsg{Event: correlation.Event{Incident: incident(2, t0.Add(time.Minute), 0.25)}},
		IncidentMsg{Event: correlation.Event{Incident: incident(3, t0.Add(2*time.Minute), 0.25)}},
	)
	assert.Equal(t, []int64{3, 2}, ids(a.Incidents()))
}

func TestViewShowsIncidentAndBand(t *testing.T) {
	a := send(t, ready(t),
		IncidentMsg{Event: correlation.Event{Incident: incident(7, t0, 0.73)}},
	)
	view := a.View()
	assert.Contains(t, view, "Minneapolis")
	assert.Contains(t, view, "HIGH")
	assert.Contains(t, view, "#7 Lake Street")
	assert.Contains(t, view, "10m ago")
	assert.NotContains(t, view, "someone:")

	a = send(t, a, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, a.View(), "someone:")
}

func TestActivityKeepsLastRows(t *testing.T) {
	app := NewApp(Options{ActivityRows: 2})
	m, _ := app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	a := m.(App)

	for i, text := range []string{"first report", "second report", "third report"} {
		a = send(t, a, DecisionMsg{
			Report:    model.RawReport{SourceType: model.SourceRSS, Text: text},
			Verdict:   relevance.Verdict{Relevant: i != 1, Reason: relevance.ReasonNoLocation},
			ClusterID: int64(i + 1),
		})
	}
	require.Len(t, a.activity, 2)
	view := a.View()
	assert.NotContains(t, view, "first report")
	assert.Contains(t, view, "no location keyword")
	assert.Contains(t, view, "#3")
}

func TestCollectMessagesStopSpinnerAndShowErrors(t *testing.T) {
	a := ready(t)
	assert.True(t, a.waiting())
	assert.Contains(t, a.View(), "collecting")

	_, cmd := a.Update(spinner.TickMsg{})
	assert.NotNil(t, cmd, "spinner keeps ticking while waiting")

	a = send(t, a, CollectMsg{Cycle: collect.Cycle{Producer: "reddit", Err: errors.New("HTTP 503")}, At: t0})
	assert.False(t, a.waiting())
	assert.Contains(t, a.View(), "reddit: HTTP 503")

	_, cmd = a.Update(spinner.TickMsg{})
	assert.Nil(t, cmd)
}

func TestStatsInStatusBar(t *testing.T) {
	a := send(t, ready(t), StatsMsg{Engine: correlation.Stats{ReportsIngested: 12, Duplicates: 3}})
	view := a.View()
	assert.Contains(t, view, "12 ingested")
	assert.Contains(t, view, "3 dup")
}

func TestQuit(t *testing.T) {
	_, cmd := ready(t).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "abcd…", truncateRunes("abcdefgh", 5))
}
