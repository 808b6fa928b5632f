package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/icewatch/internal/config"
	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/locale"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/otel"
	"github.com/abelbrown/icewatch/internal/relevance"
	"github.com/abelbrown/icewatch/internal/store"
)

var t0 = time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)

func sampleReports() []model.RawReport {
	return []model.RawReport{
		{SourceType: model.SourceBluesky, SourceID: "a", Author: "a1", Timestamp: t0,
			Text: "ICE agents spotted at Lake Street and Nicollet in Minneapolis right now."},
		{SourceType: model.SourceReddit, SourceID: "b", Author: "b1", Timestamp: t0.Add(20 * time.Minute),
			Text: "ICE agents spotted at Lake Street in Minneapolis right now, heads up"},
		{SourceType: model.SourceReddit, SourceID: "b", Author: "b1", Timestamp: t0.Add(20 * time.Minute),
			Text: "ICE agents spotted at Lake Street in Minneapolis right now, heads up"},
		{SourceType: model.SourceReddit, SourceID: "n", Timestamp: t0.Add(25 * time.Minute),
			Text: "Great game at Target Field tonight, the Twins won again."},
	}
}

// ---------------------------------------------------------------------------
// command constructors
// ---------------------------------------------------------------------------

func TestCommandConstructors(t *testing.T) {
	for _, tc := range []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{runCmd(), "run", nil},
		{watchCmd(), "watch", nil},
		{checkCmd(), "check", []string{"source", "json"}},
		{replayCmd(), "replay", []string{"save", "send"}},
		{incidentsCmd(), "incidents", []string{"limit"}},
		{eventsCmd(), "events", []string{"tail", "follow", "kind", "level", "comp", "cluster", "session", "json", "file"}},
	} {
		t.Run(tc.use, func(t *testing.T) {
			assert.Equal(t, tc.use, tc.cmd.Name())
			assert.NotEmpty(t, tc.cmd.Short)
			assert.NotEmpty(t, tc.cmd.Long)
			assert.NotNil(t, tc.cmd.RunE)
			for _, name := range tc.flags {
				assert.NotNil(t, tc.cmd.Flags().Lookup(name), name)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// check
// ---------------------------------------------------------------------------

func TestFormatVerdict(t *testing.T) {
	filter := relevance.MustNew(locale.Default())

	out := formatVerdict(filter.Explain("ICE agents spotted at Lake Street right now", model.SourceReddit), model.SourceReddit)
	assert.Contains(t, out, "RELEVANT")
	assert.Contains(t, out, "Reddit")
	assert.Contains(t, out, "lake street")
	assert.Contains(t, out, "Lake Street")

	out = formatVerdict(filter.Explain("Great game at Target Field tonight", model.SourceReddit), model.SourceReddit)
	assert.Contains(t, out, "REJECTED")
	assert.Contains(t, out, string(relevance.ReasonNoSubject))
}

// ---------------------------------------------------------------------------
// replay
// ---------------------------------------------------------------------------

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "icewatch.db")
	cfg.Notify.UpdateIntervalSeconds = -1
	return cfg
}

func TestReplayCorroborates(t *testing.T) {
	w, err := wire(testConfig(t), wireOptions{follow: true})
	require.NoError(t, err)
	defer w.Close()

	tally, err := replay(w, sampleReports())
	require.NoError(t, err)
	assert.Equal(t, replayTally{Reports: 4, Rejected: 1, Duplicate: 1, New: 1, Updates: 1}, tally)

	open := w.engine.Open()
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].SourceCount)
	assert.Equal(t, "Lake Street", open[0].PrimaryLocation)
	assert.Equal(t, int64(2), w.dispatcher.Stats().Enqueued)

	var out bytes.Buffer
	printReplay(&out, tally, w.engine, notify.DefaultBands)
	assert.Contains(t, out.String(), "4 reports: 1 rejected, 1 duplicate, 1 new incidents, 1 updates, 0 closed")
	assert.Contains(t, out.String(), "#1")
	assert.Contains(t, out.String(), "Lake Street")
}

func TestReplaySavesAndResumes(t *testing.T) {
	cfg := testConfig(t)

	w, err := wire(cfg, wireOptions{store: true, follow: true})
	require.NoError(t, err)
	_, err = replay(w, sampleReports())
	require.NoError(t, err)
	w.Close()

	st, err := store.Open(cfg.Database())
	require.NoError(t, err)
	rows, err := st.RecentIncidents(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Emissions)
	assert.Equal(t, 2, rows[0].SourceCount)

	var out bytes.Buffer
	printIncidentRows(&out, rows, notify.DefaultBands)
	assert.Contains(t, out.String(), "2 alerts")

	reports, err := st.IncidentReports(rows[0].ClusterID)
	require.NoError(t, err)
	out.Reset()
	printReports(&out, reports)
	assert.Contains(t, out.String(), "Nicollet")
	require.NoError(t, st.Close())

	// A second run continues cluster ids and already knows the reports.
	w, err = wire(cfg, wireOptions{store: true, follow: true})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, int64(1), w.engine.LastID())

	tally, err := replay(w, sampleReports()[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, tally.Duplicate)
}

func TestClusterIDsNotReusedWhenAlertsDropped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.QueueSize = 1

	w, err := wire(cfg, wireOptions{store: true, follow: true})
	require.NoError(t, err)
	for i, text := range []string{
		"ICE agents spotted at Lake Street and Nicollet in Minneapolis right now.",
		"Community alert: ICE sighting near Powderhorn Park in Minneapolis.",
		"ICE agents detaining people near Cedar Riverside in Minneapolis right now.",
	} {
		res := w.pipeline.Process(model.RawReport{
			SourceType: model.SourceBluesky,
			SourceID:   fmt.Sprint("r", i),
			Text:       text,
			Timestamp:  t0.Add(time.Duration(i) * time.Minute),
		})
		require.True(t, res.Emitted)
		require.Equal(t, correlation.KindNew, res.Event.Kind)
	}
	assert.Equal(t, int64(3), w.engine.LastID())
	assert.Equal(t, int64(2), w.dispatcher.Stats().Dropped)

	// Drain whatever made it into the queue, then shut down.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.dispatcher.Run(ctx))
	w.Close()

	w, err = wire(cfg, wireOptions{store: true, follow: true})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, int64(3), w.engine.LastID())

	res := w.pipeline.Process(model.RawReport{
		SourceType: model.SourceReddit,
		SourceID:   "after-restart",
		Text:       "ICE agents spotted at Lake Street and Nicollet in Minneapolis right now.",
		Timestamp:  t0.Add(4 * time.Hour),
	})
	require.True(t, res.Emitted)
	assert.Equal(t, int64(4), res.Event.Incident.ClusterID)
}

// ---------------------------------------------------------------------------
// events
// ---------------------------------------------------------------------------

func journalLines(t *testing.T, events ...otel.Event) string {
	t.Helper()
	var buf bytes.Buffer
	l := otel.NewLogger(&buf)
	for _, ev := range events {
		l.Emit(ev)
	}
	l.Close()
	return buf.String() + "not json\n\n"
}

func TestReadTailLinesFilters(t *testing.T) {
	data := journalLines(t,
		otel.Event{Kind: otel.KindIncidentNew, Comp: "coord", Cluster: 1},
		otel.Event{Kind: otel.KindReportRejected, Level: otel.LevelDebug, Comp: "coord"},
		otel.Event{Kind: otel.KindIncidentUpdate, Comp: "coord", Cluster: 1},
		otel.Event{Kind: otel.KindNotifyError, Level: otel.LevelError, Comp: "notify", Cluster: 2},
		otel.Event{Kind: otel.KindIncidentNew, Comp: "coord", Cluster: 2},
	)

	all := readTailLines(strings.NewReader(data), 50, eventFilter{}.match)
	assert.Len(t, all, 5)

	last := readTailLines(strings.NewReader(data), 2, eventFilter{}.match)
	require.Len(t, last, 2)
	assert.Equal(t, otel.KindNotifyError, last[0].ev.Kind)
	assert.Equal(t, otel.KindIncidentNew, last[1].ev.Kind)

	incidents := readTailLines(strings.NewReader(data), 50, eventFilter{kind: "incident"}.match)
	assert.Len(t, incidents, 3)

	errs := readTailLines(strings.NewReader(data), 50, eventFilter{minLevel: otel.LevelWarn}.match)
	require.Len(t, errs, 1)
	assert.Equal(t, "notify", errs[0].ev.Comp)

	cluster := readTailLines(strings.NewReader(data), 50, eventFilter{cluster: 1}.match)
	assert.Len(t, cluster, 2)

	assert.Empty(t, readTailLines(strings.NewReader(data), 0, eventFilter{}.match))
}

func TestFormatEvent(t *testing.T) {
	ev := otel.Event{
		Time:       time.Date(2025, 6, 3, 15, 4, 5, 0, time.UTC),
		Level:      otel.LevelInfo,
		Kind:       otel.KindIncidentUpdate,
		Comp:       "coord",
		Cluster:    7,
		Location:   "Lake Street",
		Confidence: 0.52,
		Source:     "reddit",
		DurMs:      2.5,
	}
	line := formatEvent(ev, []byte(`{"raw":true}`), false)
	assert.True(t, strings.HasPrefix(line, "15:04:05.000 INFO  [coord  ] incident.update"), line)
	assert.Contains(t, line, "#7")
	assert.Contains(t, line, `loc="Lake Street"`)
	assert.Contains(t, line, "conf=0.52")
	assert.Contains(t, line, "(2.5ms)")
	assert.Contains(t, line, "src=reddit")

	assert.Equal(t, `{"raw":true}`, formatEvent(ev, []byte(`{"raw":true}`), true))
}

func TestLevelRankOrder(t *testing.T) {
	assert.Less(t, levelRank(otel.LevelDebug), levelRank(otel.LevelInfo))
	assert.Less(t, levelRank(otel.LevelInfo), levelRank(otel.LevelWarn))
	assert.Less(t, levelRank(otel.LevelWarn), levelRank(otel.LevelError))
	assert.Equal(t, 0, levelRank(""))
}

func TestIncidentSummaryClosed(t *testing.T) {
	inc := correlation.Incident{
		ClusterID:         3,
		PrimaryLocation:   "",
		ConfidenceScore:   0.8,
		SourceCount:       4,
		UniqueSourceTypes: []model.SourceType{model.SourceReddit, model.SourceRSS},
		EarliestReport:    t0,
		LatestReport:      t0.Add(time.Hour),
		Status:            correlation.StatusClosed,
	}
	line := formatIncident(summarize(inc), notify.DefaultBands, time.UTC)
	assert.Contains(t, line, "HIGH")
	assert.Contains(t, line, "unknown location")
	assert.Contains(t, line, "Reddit, News (RSS)")
	assert.Contains(t, line, "closed")
}
