// Package otel records what the pipeline decided, one JSONL line per event.
//
// The Logger writes asynchronously through a buffered channel drained by a
// background goroutine. An optional RingBuffer keeps the latest events in
// memory for the incident board's activity pane.
package otel

import (
	"encoding/json"
	"strings"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of a journal event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Report decisions
	KindReportAccepted  EventKind = "report.accepted"
	KindReportRejected  EventKind = "report.rejected"
	KindReportDuplicate EventKind = "report.duplicate"
	KindReportStale     EventKind = "report.stale"

	// Incident lifecycle
	KindIncidentNew     EventKind = "incident.new"
	KindIncidentUpdate  EventKind = "incident.update"
	KindIncidentClosed  EventKind = "incident.closed"
	KindIncidentEvicted EventKind = "incident.evicted"

	// Collection
	KindCollectStart    EventKind = "collect.start"
	KindCollectComplete EventKind = "collect.complete"
	KindCollectError    EventKind = "collect.error"

	// Delivery
	KindNotifyError   EventKind = "notify.error"
	KindNotifyDropped EventKind = "notify.dropped"

	KindStoreError EventKind = "store.error"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Subsystem returns the part before the dot ("report" for report.accepted).
func (k EventKind) Subsystem() string {
	s, _, _ := strings.Cut(string(k), ".")
	return s
}

// Event is the universal journal record. Every field except Kind and Time
// is optional. Serialized as a single JSONL line.
type Event struct {
	Time       time.Time      `json:"t"`
	Level      Level          `json:"level,omitempty"`
	Kind       EventKind      `json:"kind"`
	Comp       string         `json:"comp,omitempty"`       // component: "coord", "collect", "notify", "main"
	SessionID  string         `json:"session_id,omitempty"` // same for the entire run
	Cluster    int64          `json:"cluster,omitempty"`
	Source     string         `json:"source,omitempty"`    // producer name or source type
	ReportID   string         `json:"report_id,omitempty"` // source id of the report
	Location   string         `json:"location,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Reason     string         `json:"reason,omitempty"` // why a report was rejected
	Dur        time.Duration  `json:"-"`                // not serialized directly
	DurMs      float64        `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Count      int            `json:"count,omitempty"`
	Err        string         `json:"err,omitempty"`
	Msg        string         `json:"msg,omitempty"`   // free text
	Extra      map[string]any `json:"extra,omitempty"` // escape hatch for unusual fields
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
