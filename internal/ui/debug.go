package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/icewatch/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
const debugPanelChrome = 4

// debugOverlay renders pipeline counters and the journal tail.
// Pure function. Returns a placeholder if ring is nil.
func debugOverlay(ring *otel.RingBuffer, stats StatsMsg, width, height int) string {
	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Pipeline"))
	e, n := stats.Engine, stats.Notify
	lines = append(lines, fmt.Sprintf("  Reports:    %d ingested, %d duplicate, %d stale",
		e.ReportsIngested, e.Duplicates, e.StaleReports))
	lines = append(lines, fmt.Sprintf("  Incidents:  %d created, %d updated, %d closed, %d open",
		e.IncidentsCreated, e.IncidentsUpdated, e.IncidentsClosed, e.OpenIncidents))
	lines = append(lines, fmt.Sprintf("  Notify:     %d sent, %d failed, %d coalesced, %d dropped",
		n.Delivered, n.Failed, n.Coalesced, n.Dropped))

	if ring == nil {
		lines = append(lines, "", MutedText.Render("  journal not attached"))
	} else {
		counts := ring.Stats()
		lines = append(lines, fmt.Sprintf("  Filter:     %d accepted, %d rejected",
			counts[otel.KindIncidentNew]+counts[otel.KindIncidentUpdate], counts[otel.KindReportRejected]))
		lines = append(lines, fmt.Sprintf("  Collect:    %d passes, %d errors",
			counts[otel.KindCollectComplete], counts[otel.KindCollectError]))
		lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events", ring.Len(), ring.Cap()))
		lines = append(lines, "")
		lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
		for _, ev := range ring.Last(20) {
			lines = append(lines, journalLine(ev))
		}
	}

	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 96
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}
	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

func journalLine(e otel.Event) string {
	line := fmt.Sprintf("  %6s  %-18s", formatAge(time.Since(e.Time)), string(e.Kind))
	if e.Cluster != 0 {
		line += fmt.Sprintf("  #%d", e.Cluster)
	}
	if e.Source != "" {
		line += "  " + e.Source
	}
	if e.Reason != "" {
		line += "  " + truncateRunes(e.Reason, 40)
	}
	if e.Msg != "" {
		line += "  " + truncateRunes(e.Msg, 40)
	}
	if e.Err != "" {
		line += "  ERR:" + truncateRunes(e.Err, 30)
	}
	return line
}

// formatAge formats a duration as a compact human string.
// Negative durations from clock skew clamp to "0s".
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("D") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [JOURNAL]  " + keys)
}
