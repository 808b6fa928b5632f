package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/ui"
)

// incidentSummary is the part of an incident the listings print. Both
// live engine incidents and stored rows convert to it.
type incidentSummary struct {
	ID        int64
	Location  string
	Score     float64
	Reports   int
	Sources   []model.SourceType
	First     time.Time
	Last      time.Time
	Status    correlation.Status
	Emissions int
}

func summarize(inc correlation.Incident) incidentSummary {
	return incidentSummary{
		ID:       inc.ClusterID,
		Location: inc.PrimaryLocation,
		Score:    inc.ConfidenceScore,
		Reports:  inc.SourceCount,
		Sources:  inc.UniqueSourceTypes,
		First:    inc.EarliestReport,
		Last:     inc.LatestReport,
		Status:   inc.Status,
	}
}

func formatIncident(s incidentSummary, bands notify.Bands, zone *time.Location) string {
	band := bands.Of(s.Score)
	labels := make([]string, 0, len(s.Sources))
	for _, src := range s.Sources {
		labels = append(labels, src.Label())
	}
	loc := s.Location
	if loc == "" {
		loc = "unknown location"
	}
	line := fmt.Sprintf("#%-4d %s %.2f  %-22s %d reports (%s)  %s - %s",
		s.ID,
		ui.BandStyle(band).Render(string(band)),
		s.Score,
		loc,
		s.Reports,
		strings.Join(labels, ", "),
		s.First.In(zone).Format("Jan 2 3:04pm"),
		s.Last.In(zone).Format("3:04pm"),
	)
	if s.Emissions > 0 {
		line += fmt.Sprintf("  %d alerts", s.Emissions)
	}
	if s.Status == correlation.StatusClosed {
		return ui.MutedText.Render(line + "  closed")
	}
	return line
}

// displayZone is the zone report times are printed in.
func displayZone() *time.Location {
	if z, err := time.LoadLocation("America/Chicago"); err == nil {
		return z
	}
	return time.Local
}
