// Package correlation groups accepted reports into incidents and scores how
// well each incident is corroborated.
//
// The Engine is a single-writer state machine: one goroutine calls Ingest and
// Sweep. Every emission carries a deep snapshot of the incident, so
// consumers may hold or send events without synchronizing with the engine.
package correlation

import (
	"time"

	"github.com/abelbrown/icewatch/internal/model"
)

// Kind says whether an emission is the first for its incident.
type Kind string

const (
	KindNew    Kind = "new"
	KindUpdate Kind = "update"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen   Status = "open"   // Accepting reports
	StatusClosed Status = "closed" // Idle past the inactivity window; read-only
)

// Incident is a cluster of reports believed to describe one occurrence.
type Incident struct {
	ClusterID         int64              `json:"cluster_id"`
	PrimaryLocation   string             `json:"primary_location"`
	EarliestReport    time.Time          `json:"earliest_report"`
	LatestReport      time.Time          `json:"latest_report"`
	Reports           []model.RawReport  `json:"reports"`
	NewReports        []model.RawReport  `json:"new_reports"`
	SourceCount       int                `json:"source_count"`
	UniqueSourceTypes []model.SourceType `json:"unique_source_types"`
	ConfidenceScore   float64            `json:"confidence_score"`
	NotificationType  Kind               `json:"notification_type"`
	LastEmittedAt     time.Time          `json:"last_emitted_at"`
	Status            Status             `json:"status"`
	ClosedAt          time.Time          `json:"closed_at,omitempty"`

	seq uint64 // engine mutation counter at last change; breaks match ties
}

// SourceCounts returns the number of reports per source type.
func (inc *Incident) SourceCounts() map[model.SourceType]int {
	counts := make(map[model.SourceType]int)
	for _, r := range inc.Reports {
		counts[r.SourceType.Normalize()]++
	}
	return counts
}

// Span returns the time between the earliest and latest report.
func (inc *Incident) Span() time.Duration {
	return inc.LatestReport.Sub(inc.EarliestReport)
}

// Clone returns a deep copy. Report metadata maps are copied one level deep.
func (inc *Incident) Clone() Incident {
	c := *inc
	c.Reports = cloneReports(inc.Reports)
	c.NewReports = cloneReports(inc.NewReports)
	if inc.UniqueSourceTypes != nil {
		c.UniqueSourceTypes = append([]model.SourceType(nil), inc.UniqueSourceTypes...)
	}
	return c
}

func cloneReports(in []model.RawReport) []model.RawReport {
	if in == nil {
		return nil
	}
	out := make([]model.RawReport, len(in))
	for i, r := range in {
		if r.Metadata != nil {
			md := make(map[string]any, len(r.Metadata))
			for k, v := range r.Metadata {
				md[k] = v
			}
			r.Metadata = md
		}
		r.SubjectMatches = append([]string(nil), r.SubjectMatches...)
		r.LocationMatches = append([]string(nil), r.LocationMatches...)
		out[i] = r
	}
	return out
}

// Event is one emission from the engine.
type Event struct {
	Kind     Kind
	Incident Incident
}

// ActivityType labels an engine action.
type ActivityType string

const (
	ActivityNew       ActivityType = "new"
	ActivityUpdate    ActivityType = "update"
	ActivityDuplicate ActivityType = "duplicate"
	ActivityStale     ActivityType = "stale"
	ActivityClose     ActivityType = "close"
	ActivityEvict     ActivityType = "evict"
)

// Activity is a single engine action, kept for the activity feed.
type Activity struct {
	Type      ActivityType
	Time      time.Time
	ClusterID int64
	Details   string
}

// Stats holds engine counters.
type Stats struct {
	ReportsIngested  int
	Duplicates       int
	StaleReports     int // older than the inactivity window; never matched
	FutureReports    int // dated past now plus MaxSkew; clamped to now
	IncidentsCreated int
	IncidentsUpdated int
	IncidentsClosed  int
	IncidentsEvicted int
	OpenIncidents    int
	SeenKeys         int
	StartTime        time.Time
}
