package correlation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/icewatch/internal/locale"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/relevance"
)

var base = time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)

// testClock is a settable time source.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testClock) {
	t.Helper()
	clock := &testClock{t: base}
	e := NewEngine(cfg)
	e.SetClock(clock.now)
	return e, clock
}

var filter = relevance.MustNew(locale.Default())

func report(src model.SourceType, id, text string, ts time.Time) model.RawReport {
	return filter.Annotate(model.RawReport{
		SourceType: src,
		SourceID:   id,
		Text:       text,
		Timestamp:  ts,
	})
}

// located builds a report with an explicit location, bypassing annotation.
func located(src model.SourceType, id, text, loc string, ts time.Time) model.RawReport {
	return model.RawReport{
		SourceType: src,
		SourceID:   id,
		Text:       text,
		CleanText:  text,
		Location:   loc,
		Timestamp:  ts,
	}
}

func TestEndToEndCorroboration(t *testing.T) {
	e, clock := newTestEngine(t, Config{})

	a := report(model.SourceBluesky, "a1", "ICE agents spotted at Lake Street, Minneapolis", base)
	ev, ok := e.Ingest(a)
	require.True(t, ok)
	assert.Equal(t, KindNew, ev.Kind)
	assert.Equal(t, KindNew, ev.Incident.NotificationType)
	assert.Equal(t, 1, ev.Incident.SourceCount)
	assert.Equal(t, "Lake Street", ev.Incident.PrimaryLocation)
	firstID := ev.Incident.ClusterID
	firstConfidence := ev.Incident.ConfidenceScore

	clock.t = base.Add(30 * time.Minute)
	b := report(model.SourceRSS, "b1", "Unmarked ICE van near Lake Street Minneapolis", base.Add(30*time.Minute))
	ev, ok = e.Ingest(b)
	require.True(t, ok)

	assert.Equal(t, KindUpdate, ev.Kind)
	assert.Equal(t, firstID, ev.Incident.ClusterID)
	assert.Equal(t, 2, ev.Incident.SourceCount)
	assert.Len(t, ev.Incident.UniqueSourceTypes, 2)
	assert.Equal(t, KindUpdate, ev.Incident.NotificationType)
	assert.GreaterOrEqual(t, ev.Incident.ConfidenceScore, firstConfidence)
	assert.Equal(t, base, ev.Incident.EarliestReport)
	assert.Equal(t, base.Add(30*time.Minute), ev.Incident.LatestReport)
	require.Len(t, ev.Incident.NewReports, 1)
	assert.Equal(t, "b1", ev.Incident.NewReports[0].SourceID)
}

func TestDuplicateReportIgnored(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	r := report(model.SourceReddit, "r1", "ICE agents spotted at Lake Street, Minneapolis", base)

	_, ok := e.Ingest(r)
	require.True(t, ok)
	before, _ := e.Incident(1)

	_, ok = e.Ingest(r)
	assert.False(t, ok)

	after, _ := e.Incident(1)
	assert.Equal(t, before.SourceCount, after.SourceCount)
	assert.Equal(t, 1, e.Stats().Duplicates)
	assert.Equal(t, 1, e.Stats().ReportsIngested)
}

func TestDuplicateWithoutSourceID(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	r := located(model.SourceRSS, "", "ICE checkpoint on Lake Street", "Lake Street", base)
	r.SourceURL = "https://example.com/a"

	_, ok := e.Ingest(r)
	require.True(t, ok)
	_, ok = e.Ingest(r)
	assert.False(t, ok)
}

func TestUnrelatedReportsOpenSeparateIncidents(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	ev1, _ := e.Ingest(report(model.SourceBluesky, "1", "ICE agents spotted at Lake Street, Minneapolis", base))
	ev2, _ := e.Ingest(report(model.SourceReddit, "2", "Federal agents detained a man at Powderhorn Park", base))

	assert.NotEqual(t, ev1.Incident.ClusterID, ev2.Incident.ClusterID)
	assert.Equal(t, KindNew, ev2.Kind)
	assert.Len(t, e.Open(), 2)
}

func TestLocationMustBeCompatible(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"

	ev1, _ := e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))
	ev2, _ := e.Ingest(located(model.SourceReddit, "2", text, "Powderhorn Park", base))
	assert.NotEqual(t, ev1.Incident.ClusterID, ev2.Incident.ClusterID)

	// Empty location is compatible with anything.
	ev3, _ := e.Ingest(located(model.SourceTwitter, "3", text, "", base))
	assert.Equal(t, KindUpdate, ev3.Kind)

	// Location matching ignores case.
	ev4, _ := e.Ingest(located(model.SourceIceout, "4", text, "lake street", base))
	assert.Equal(t, ev1.Incident.ClusterID, ev4.Incident.ClusterID)
}

func TestEmptyPrimaryLocationFilledByLaterReport(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"

	ev, _ := e.Ingest(located(model.SourceBluesky, "1", text, "", base))
	assert.Empty(t, ev.Incident.PrimaryLocation)

	ev, _ = e.Ingest(located(model.SourceReddit, "2", text, "Cedar-Riverside", base))
	assert.Equal(t, KindUpdate, ev.Kind)
	assert.Equal(t, "Cedar-Riverside", ev.Incident.PrimaryLocation)
}

func TestMatchWindow(t *testing.T) {
	e, clock := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"

	ev1, _ := e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))

	later := base.Add(150 * time.Minute)
	clock.t = later
	ev2, _ := e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", later))
	assert.Equal(t, KindNew, ev2.Kind)
	assert.NotEqual(t, ev1.Incident.ClusterID, ev2.Incident.ClusterID)
}

func TestOutOfOrderReportExtendsSpan(t *testing.T) {
	e, clock := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"
	clock.t = base.Add(time.Hour)

	e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))
	ev, _ := e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", base.Add(-20*time.Minute)))

	assert.Equal(t, KindUpdate, ev.Kind)
	assert.Equal(t, base.Add(-20*time.Minute), ev.Incident.EarliestReport)
	assert.Equal(t, base, ev.Incident.LatestReport)
}

func TestStaleReportSkipsMatching(t *testing.T) {
	e, clock := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"
	clock.t = base.Add(4 * time.Hour)

	e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base.Add(4*time.Hour)))
	ev, ok := e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", base))

	require.True(t, ok)
	assert.Equal(t, KindNew, ev.Kind)
	assert.Equal(t, 1, e.Stats().StaleReports)
}

func TestTieGoesToMostRecentlyUpdated(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"

	lake, _ := e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))
	park, _ := e.Ingest(located(model.SourceBluesky, "2", text, "Powderhorn Park", base))

	ev, _ := e.Ingest(located(model.SourceReddit, "3", text, "", base))
	assert.Equal(t, park.Incident.ClusterID, ev.Incident.ClusterID)

	e.Ingest(located(model.SourceTwitter, "4", text, "Lake Street", base))
	ev, _ = e.Ingest(located(model.SourceIceout, "5", text, "", base))
	assert.Equal(t, lake.Incident.ClusterID, ev.Incident.ClusterID)
}

func TestHigherSimilarityWins(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	e.Ingest(located(model.SourceBluesky, "1", "ICE agents detaining people outside the grocery store", "", base))
	target, _ := e.Ingest(located(model.SourceBluesky, "2", "unmarked van with federal agents blocking the alley", "", base))

	ev, _ := e.Ingest(located(model.SourceReddit, "3", "federal agents in an unmarked van blocking the alley", "", base))
	assert.Equal(t, target.Incident.ClusterID, ev.Incident.ClusterID)
}

func TestConfidenceNonDecreasing(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"
	sources := []model.SourceType{
		model.SourceBluesky, model.SourceBluesky, model.SourceReddit,
		model.SourceBluesky, model.SourceTwitter, model.SourceReddit, model.SourceIceout,
	}

	prev := -1.0
	for i, src := range sources {
		ev, ok := e.Ingest(located(src, fmt.Sprint(i), text, "Lake Street", base))
		require.True(t, ok)
		assert.Equal(t, int64(1), ev.Incident.ClusterID)
		assert.GreaterOrEqual(t, ev.Incident.ConfidenceScore, prev)
		assert.LessOrEqual(t, ev.Incident.ConfidenceScore, 1.0)
		prev = ev.Incident.ConfidenceScore
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name   string
		counts map[model.SourceType]int
		want   float64
	}{
		{"none", nil, 0},
		{"zero counts", map[model.SourceType]int{model.SourceReddit: 0}, 0},
		{"one report", map[model.SourceType]int{model.SourceReddit: 1}, 0.25},
		{"two reports one type", map[model.SourceType]int{model.SourceReddit: 2}, 0.34},
		{"two types", map[model.SourceType]int{model.SourceReddit: 1, model.SourceRSS: 1}, 0.55},
		{"three types", map[model.SourceType]int{model.SourceReddit: 1, model.SourceRSS: 1, model.SourceBluesky: 1}, 0.73},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.counts), 1e-9)
		})
	}
}

func TestConfidenceDiversityBeatsVolume(t *testing.T) {
	volume := Confidence(map[model.SourceType]int{model.SourceReddit: 50})
	diverse := Confidence(map[model.SourceType]int{model.SourceReddit: 1, model.SourceRSS: 1})
	assert.Less(t, volume, diverse)
	assert.Less(t, volume, 1.0)
}

func TestConfidenceBadWeightsFallBack(t *testing.T) {
	w := ConfidenceWeights{Initial: 5, Diversity: -1, Repeat: 2, RepeatDecay: 9}
	counts := map[model.SourceType]int{model.SourceReddit: 3, model.SourceRSS: 1}
	assert.InDelta(t, Confidence(counts), w.Confidence(counts), 1e-9)
}

func TestNewReportsClearedAfterEmit(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"

	ev1, _ := e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))
	require.Len(t, ev1.Incident.NewReports, 1)

	ev2, _ := e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", base))
	require.Len(t, ev2.Incident.NewReports, 1)
	assert.Equal(t, "2", ev2.Incident.NewReports[0].SourceID)
	assert.Len(t, ev2.Incident.Reports, 2)

	inc, ok := e.Incident(ev1.Incident.ClusterID)
	require.True(t, ok)
	assert.Empty(t, inc.NewReports)
	assert.Equal(t, KindUpdate, inc.NotificationType)
}

func TestSnapshotsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	r := located(model.SourceBluesky, "1", "ICE agents detaining people outside the store", "Lake Street", base)
	r.Metadata = map[string]any{"subreddit": "Minneapolis"}

	ev, _ := e.Ingest(r)
	ev.Incident.Reports[0].Text = "changed"
	ev.Incident.Reports[0].Metadata["subreddit"] = "changed"
	ev.Incident.UniqueSourceTypes[0] = "changed"

	inc, _ := e.Incident(ev.Incident.ClusterID)
	assert.Equal(t, "ICE agents detaining people outside the store", inc.Reports[0].Text)
	assert.Equal(t, "Minneapolis", inc.Reports[0].Metadata["subreddit"])
	assert.Equal(t, model.SourceBluesky, inc.UniqueSourceTypes[0])
}

func TestSweepClosesAndEvicts(t *testing.T) {
	e, clock := newTestEngine(t, Config{InactivityWindow: time.Hour, Retention: 2 * time.Hour})
	text := "ICE agents detaining people outside the store"

	ev, _ := e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))
	id := ev.Incident.ClusterID

	assert.Empty(t, e.Sweep(base.Add(30*time.Minute)))

	closeAt := base.Add(61 * time.Minute)
	closed := e.Sweep(closeAt)
	require.Len(t, closed, 1)
	assert.Equal(t, StatusClosed, closed[0].Status)
	assert.Equal(t, closeAt, closed[0].ClosedAt)
	assert.Empty(t, e.Open())
	assert.Len(t, e.Closed(), 1)

	// Closed incidents no longer accept reports.
	clock.t = closeAt
	ev2, _ := e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", closeAt))
	assert.Equal(t, KindNew, ev2.Kind)
	assert.NotEqual(t, id, ev2.Incident.ClusterID)

	_, ok := e.Incident(id)
	assert.True(t, ok, "retained while inside retention")

	e.Sweep(closeAt.Add(3 * time.Hour))
	_, ok = e.Incident(id)
	assert.False(t, ok)

	stats := e.Stats()
	assert.Equal(t, 2, stats.IncidentsClosed)
	assert.Equal(t, 1, stats.IncidentsEvicted)
}

func TestIdleIncidentNotMatchedBeforeSweep(t *testing.T) {
	e, clock := newTestEngine(t, Config{InactivityWindow: time.Hour, MatchWindow: 3 * time.Hour})
	text := "ICE agents detaining people outside the store"

	e.Ingest(located(model.SourceBluesky, "1", text, "Lake Street", base))
	clock.t = base.Add(90 * time.Minute)
	ev, _ := e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", clock.t))
	assert.Equal(t, KindNew, ev.Kind)
}

func TestClusterIDsResumeFromStartID(t *testing.T) {
	e, _ := newTestEngine(t, Config{StartID: 41})
	ev, _ := e.Ingest(located(model.SourceBluesky, "1", "ICE agents at the store", "Lake Street", base))
	assert.Equal(t, int64(42), ev.Incident.ClusterID)
	assert.Equal(t, int64(42), e.LastID())
}

func TestMissingTimestampFallsBack(t *testing.T) {
	e, clock := newTestEngine(t, Config{})
	clock.t = base.Add(10 * time.Minute)

	r := located(model.SourceBluesky, "1", "ICE agents at the store", "Lake Street", time.Time{})
	r.CollectedAt = base.Add(5 * time.Minute)
	ev, _ := e.Ingest(r)
	assert.Equal(t, base.Add(5*time.Minute), ev.Incident.EarliestReport)

	ev, _ = e.Ingest(located(model.SourceRSS, "2", "Checkpoint at Hennepin", "Downtown", time.Time{}))
	assert.Equal(t, clock.t, ev.Incident.EarliestReport)
}

func TestPrimeMarksKeysSeen(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	r := located(model.SourceBluesky, "1", "ICE agents at the store", "Lake Street", base)
	e.Prime([]string{r.Key()})

	_, ok := e.Ingest(r)
	assert.False(t, ok)
}

func TestRecentActivity(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	text := "ICE agents detaining people outside the store"
	r := located(model.SourceBluesky, "1", text, "Lake Street", base)

	assert.Nil(t, e.RecentActivity(5))
	e.Ingest(r)
	e.Ingest(r)
	e.Ingest(located(model.SourceReddit, "2", text, "Lake Street", base))

	acts := e.RecentActivity(10)
	require.Len(t, acts, 3)
	assert.Equal(t, ActivityUpdate, acts[0].Type)
	assert.Equal(t, ActivityDuplicate, acts[1].Type)
	assert.Equal(t, ActivityNew, acts[2].Type)
	assert.Equal(t, int64(1), acts[0].ClusterID)
}

func TestOpenOrderedByRecency(t *testing.T) {
	e, clock := newTestEngine(t, Config{})
	clock.t = base.Add(time.Hour)
	e.Ingest(located(model.SourceBluesky, "1", "ICE agents at the grocery store", "Lake Street", base))
	e.Ingest(located(model.SourceBluesky, "2", "checkpoint with federal vehicles", "Powderhorn Park", base.Add(time.Hour)))

	open := e.Open()
	require.Len(t, open, 2)
	assert.Equal(t, int64(2), open[0].ClusterID)
}

func TestFutureDatedReportsStillClose(t *testing.T) {
	e, clock := newTestEngine(t, Config{})
	future := base.AddDate(1, 0, 0)

	for i, loc := range []string{"Lake Street", "Powderhorn Park", "Cedar Riverside"} {
		ev, ok := e.Ingest(located(model.SourceBluesky, fmt.Sprint(i), "ICE agents at the store "+loc, loc, future))
		require.True(t, ok)
		assert.Equal(t, base, ev.Incident.LatestReport, "clamped to the engine clock")
	}
	assert.Equal(t, 3, e.Stats().FutureReports)

	clock.t = base.AddDate(0, 0, 30)
	closed := e.Sweep(clock.t)
	assert.Len(t, closed, 3)
	assert.Empty(t, e.Open())
}

func TestSmallSkewKeepsTimestamp(t *testing.T) {
	e, _ := newTestEngine(t, Config{MaxSkew: 10 * time.Minute})
	ahead := base.Add(5 * time.Minute)

	ev, _ := e.Ingest(located(model.SourceBluesky, "1", "ICE agents at the store", "Lake Street", ahead))
	assert.Equal(t, ahead, ev.Incident.LatestReport)
	assert.Zero(t, e.Stats().FutureReports)
}
