package correlation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/seen"
	"github.com/abelbrown/icewatch/internal/similarity"
)

// Config holds engine thresholds and windows.
type Config struct {
	SimilarityThreshold float64
	SampleSize          int           // most recent reports compared per incident
	MatchWindow         time.Duration // max gap between a report and an incident's latest report
	InactivityWindow    time.Duration // idle time before an incident closes
	Retention           time.Duration // how long closed incidents stay readable
	MaxSkew             time.Duration // reports dated further ahead of now are clamped to now
	SeenCapacity        int
	MaxFeatures         int
	StartID             int64 // last cluster id already used; allocation continues after it
	Weights             ConfidenceWeights
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.25,
		SampleSize:          5,
		MatchWindow:         2 * time.Hour,
		InactivityWindow:    3 * time.Hour,
		Retention:           24 * time.Hour,
		MaxSkew:             10 * time.Minute,
		SeenCapacity:        seen.DefaultCapacity,
		MaxFeatures:         similarity.DefaultMaxFeatures,
		Weights:             DefaultWeights,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	if c.MatchWindow <= 0 {
		c.MatchWindow = d.MatchWindow
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = d.InactivityWindow
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = d.MaxSkew
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = d.SeenCapacity
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = d.MaxFeatures
	}
	if c.StartID < 0 {
		c.StartID = 0
	}
	if c.Weights == (ConfidenceWeights{}) {
		c.Weights = d.Weights
	}
	return c
}

const maxActivityEntries = 50

// Engine clusters reports into incidents. Not safe for concurrent use.
type Engine struct {
	cfg    Config
	scorer similarity.Scorer
	seen   *seen.Set
	now    func() time.Time

	open   map[int64]*Incident
	closed map[int64]*Incident
	lastID int64
	seq    uint64

	// Activity tracking for the UI feed
	recentActivity []Activity
	activityIndex  int
	stats          Stats
}

// NewEngine creates an engine. Zero config fields take defaults.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		scorer: similarity.New(cfg.MaxFeatures),
		seen:   seen.New(cfg.SeenCapacity),
		now:    time.Now,
		open:   make(map[int64]*Incident),
		closed: make(map[int64]*Incident),
		lastID: cfg.StartID,
	}
	e.stats.StartTime = e.now()
	return e
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Prime marks keys as already seen, oldest first. Used to warm de-dup state
// from storage after a restart.
func (e *Engine) Prime(keys []string) {
	for _, k := range keys {
		e.seen.Add(k)
	}
}

// Ingest adds an accepted report. It returns the resulting event and true,
// or false when the report was already seen.
func (e *Engine) Ingest(r model.RawReport) (Event, bool) {
	key := r.Key()
	if !e.seen.Add(key) {
		e.stats.Duplicates++
		e.addActivity(ActivityDuplicate, 0, r.Excerpt(60))
		return Event{}, false
	}
	e.stats.ReportsIngested++

	now := e.now()
	r.Timestamp = r.EventTime(now)
	if r.Timestamp.Sub(now) > e.cfg.MaxSkew {
		// A misdated report would hold its incident open until that date.
		e.stats.FutureReports++
		r.Timestamp = now.UTC()
	}
	if r.CleanText == "" {
		r.CleanText = r.Text
	}

	var best *Incident
	if now.Sub(r.Timestamp) > e.cfg.InactivityWindow {
		e.stats.StaleReports++
		e.addActivity(ActivityStale, 0, r.Excerpt(60))
	} else {
		best = e.bestMatch(r, now)
	}

	if best == nil {
		return e.create(r, now), true
	}
	return e.attach(best, r, now), true
}

// bestMatch returns the open incident the report corroborates, or nil.
func (e *Engine) bestMatch(r model.RawReport, now time.Time) *Incident {
	var (
		best    *Incident
		bestSim float64
	)
	for _, inc := range e.open {
		if now.Sub(inc.LatestReport) > e.cfg.InactivityWindow {
			continue
		}
		if !locationCompatible(r.Location, inc.PrimaryLocation) {
			continue
		}
		if absDuration(r.Timestamp.Sub(inc.LatestReport)) > e.cfg.MatchWindow {
			continue
		}

		sim, _ := e.scorer.Max(r.CleanText, e.sample(inc))
		if sim < e.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && inc.seq > best.seq) {
			best, bestSim = inc, sim
		}
	}
	if best != nil {
		logging.Debug("correlation: match", "cluster", best.ClusterID, "similarity", bestSim)
	}
	return best
}

// sample returns the texts of an incident's most recent reports.
func (e *Engine) sample(inc *Incident) []string {
	reports := inc.Reports
	if len(reports) > e.cfg.SampleSize {
		reports = reports[len(reports)-e.cfg.SampleSize:]
	}
	texts := make([]string, len(reports))
	for i, r := range reports {
		texts[i] = r.CleanText
	}
	return texts
}

func (e *Engine) create(r model.RawReport, now time.Time) Event {
	e.lastID++
	inc := &Incident{
		ClusterID:       e.lastID,
		PrimaryLocation: r.Location,
		EarliestReport:  r.Timestamp,
		LatestReport:    r.Timestamp,
		Reports:         []model.RawReport{r},
		NewReports:      []model.RawReport{r},
		Status:          StatusOpen,
	}
	e.refresh(inc)
	e.open[inc.ClusterID] = inc
	e.stats.IncidentsCreated++

	e.addActivity(ActivityNew, inc.ClusterID,
		fmt.Sprintf("%s at %s", r.SourceType.Label(), locationOrUnknown(inc.PrimaryLocation)))
	return e.emit(inc, KindNew, now)
}

func (e *Engine) attach(inc *Incident, r model.RawReport, now time.Time) Event {
	inc.Reports = append(inc.Reports, r)
	inc.NewReports = append(inc.NewReports, r)
	if r.Timestamp.Before(inc.EarliestReport) {
		inc.EarliestReport = r.Timestamp
	}
	if r.Timestamp.After(inc.LatestReport) {
		inc.LatestReport = r.Timestamp
	}
	if inc.PrimaryLocation == "" {
		inc.PrimaryLocation = r.Location
	}
	e.refresh(inc)
	e.stats.IncidentsUpdated++

	e.addActivity(ActivityUpdate, inc.ClusterID,
		fmt.Sprintf("+%s, %d reports, confidence %.2f", r.SourceType.Label(), inc.SourceCount, inc.ConfidenceScore))
	return e.emit(inc, KindUpdate, now)
}

// refresh recomputes derived fields after a mutation.
func (e *Engine) refresh(inc *Incident) {
	counts := inc.SourceCounts()
	types := make([]model.SourceType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	inc.SourceCount = len(inc.Reports)
	inc.UniqueSourceTypes = types
	inc.ConfidenceScore = e.cfg.Weights.Confidence(counts)
	e.seq++
	inc.seq = e.seq
}

// emit snapshots the incident and clears its pending reports.
func (e *Engine) emit(inc *Incident, kind Kind, now time.Time) Event {
	inc.NotificationType = kind
	inc.LastEmittedAt = now
	ev := Event{Kind: kind, Incident: inc.Clone()}
	inc.NewReports = nil
	return ev
}

// Sweep closes incidents idle past the inactivity window and forgets closed
// incidents past retention. It returns snapshots of the incidents closed in
// this pass, oldest cluster first.
func (e *Engine) Sweep(now time.Time) []Incident {
	var closed []Incident
	for id, inc := range e.open {
		if now.Sub(inc.LatestReport) <= e.cfg.InactivityWindow {
			continue
		}
		inc.Status = StatusClosed
		inc.ClosedAt = now
		delete(e.open, id)
		e.closed[id] = inc
		e.stats.IncidentsClosed++
		e.addActivity(ActivityClose, id, fmt.Sprintf("%d reports, confidence %.2f", inc.SourceCount, inc.ConfidenceScore))
		closed = append(closed, inc.Clone())
	}
	for id, inc := range e.closed {
		if now.Sub(inc.ClosedAt) > e.cfg.Retention {
			delete(e.closed, id)
			e.stats.IncidentsEvicted++
			e.addActivity(ActivityEvict, id, "")
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ClusterID < closed[j].ClusterID })
	return closed
}

// Open returns snapshots of open incidents, most recently active first.
func (e *Engine) Open() []Incident {
	return snapshot(e.open)
}

// Closed returns snapshots of retained closed incidents, most recently
// active first.
func (e *Engine) Closed() []Incident {
	return snapshot(e.closed)
}

// Incident returns a snapshot of an open or retained incident.
func (e *Engine) Incident(id int64) (Incident, bool) {
	if inc, ok := e.open[id]; ok {
		return inc.Clone(), true
	}
	if inc, ok := e.closed[id]; ok {
		return inc.Clone(), true
	}
	return Incident{}, false
}

// LastID returns the most recently allocated cluster id.
func (e *Engine) LastID() int64 {
	return e.lastID
}

func snapshot(m map[int64]*Incident) []Incident {
	result := make([]Incident, 0, len(m))
	for _, inc := range m {
		result = append(result, inc.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LatestReport.Equal(result[j].LatestReport) {
			return result[i].LatestReport.After(result[j].LatestReport)
		}
		return result[i].ClusterID > result[j].ClusterID
	})
	return result
}

// addActivity adds an activity to the ring buffer
func (e *Engine) addActivity(actType ActivityType, clusterID int64, details string) {
	if e.recentActivity == nil {
		e.recentActivity = make([]Activity, maxActivityEntries)
	}
	e.recentActivity[e.activityIndex] = Activity{
		Type:      actType,
		Time:      e.now(),
		ClusterID: clusterID,
		Details:   details,
	}
	e.activityIndex = (e.activityIndex + 1) % maxActivityEntries
}

// RecentActivity returns recent activities (newest first)
func (e *Engine) RecentActivity(count int) []Activity {
	if e.recentActivity == nil || count <= 0 {
		return nil
	}
	if count > maxActivityEntries {
		count = maxActivityEntries
	}

	result := make([]Activity, 0, count)
	idx := (e.activityIndex - 1 + maxActivityEntries) % maxActivityEntries
	for i := 0; i < count; i++ {
		act := e.recentActivity[idx]
		if act.Time.IsZero() {
			break
		}
		result = append(result, act)
		idx = (idx - 1 + maxActivityEntries) % maxActivityEntries
	}
	return result
}

// Stats returns current engine statistics.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.OpenIncidents = len(e.open)
	s.SeenKeys = e.seen.Len()
	return s
}

func locationCompatible(a, b string) bool {
	return a == "" || b == "" || strings.EqualFold(a, b)
}

func locationOrUnknown(loc string) string {
	if loc == "" {
		return "unknown location"
	}
	return loc
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
