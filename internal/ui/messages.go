// Package ui provides the Bubble Tea incident board.
package ui

import (
	"time"

	"github.com/abelbrown/icewatch/internal/collect"
	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/relevance"
)

// DecisionMsg is sent for every report the pipeline processed.
type DecisionMsg struct {
	Report    model.RawReport
	Verdict   relevance.Verdict
	Duplicate bool
	ClusterID int64 // incident the report joined or opened; 0 if none
}

// IncidentMsg carries an engine emission.
type IncidentMsg struct {
	Event correlation.Event
}

// ClosedMsg lists incidents closed by a sweep.
type ClosedMsg struct {
	Incidents []correlation.Incident
}

// CollectMsg is sent after every collection pass.
type CollectMsg struct {
	Cycle collect.Cycle
	At    time.Time
}

// StatsMsg carries pipeline counters.
type StatsMsg struct {
	Engine correlation.Stats
	Notify notify.DispatchStats
}

// clockTick refreshes relative times.
type clockTick time.Time
