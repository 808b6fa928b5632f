package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/otel"
)

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level otel.Level) int {
	switch level {
	case otel.LevelInfo:
		return 1
	case otel.LevelWarn:
		return 2
	case otel.LevelError:
		return 3
	default:
		return 0
	}
}

// eventFilter selects journal lines.
type eventFilter struct {
	kind     string // kind prefix, e.g. "incident" or "report.rejected"
	minLevel otel.Level
	comp     string
	cluster  int64
	session  string
}

func (f eventFilter) match(ev otel.Event) bool {
	if f.kind != "" && !strings.HasPrefix(string(ev.Kind), f.kind) {
		return false
	}
	if f.minLevel != "" && levelRank(ev.Level) < levelRank(f.minLevel) {
		return false
	}
	if f.comp != "" && ev.Comp != f.comp {
		return false
	}
	if f.cluster != 0 && ev.Cluster != f.cluster {
		return false
	}
	if f.session != "" && !strings.HasPrefix(ev.SessionID, f.session) {
		return false
	}
	return true
}

func eventsCmd() *cobra.Command {
	var (
		tail    int
		follow  bool
		filter  eventFilter
		level   string
		rawJSON bool
		path    string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event journal",
		Long: `Events prints the JSONL journal written by run, watch and replay: every
accepted, rejected and duplicate report, incident changes, collection
cycles and delivery failures.`,
		Example: `  icewatch events -n 100 --kind report.rejected
  icewatch events -f --kind incident
  icewatch events --cluster 42 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = journalPath()
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("%w (run icewatch first to generate events)", err)
			}
			defer f.Close()

			filter.minLevel = otel.Level(level)
			out := cmd.OutOrStdout()
			for _, l := range readTailLines(f, tail, filter.match) {
				fmt.Fprintln(out, formatEvent(l.ev, l.raw, rawJSON))
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return followEvents(ctx, f, out, filter.match, rawJSON)
		},
	}

	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "Number of recent events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new events (like tail -f)")
	cmd.Flags().StringVar(&filter.kind, "kind", "", "Filter by event kind prefix (e.g. 'incident')")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&filter.comp, "comp", "", "Filter by component name")
	cmd.Flags().Int64Var(&filter.cluster, "cluster", 0, "Filter by incident cluster id")
	cmd.Flags().StringVar(&filter.session, "session", "", "Filter by session id prefix")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "Output raw JSON lines")
	cmd.Flags().StringVar(&path, "file", "", "Journal file (default ~/.icewatch/logs/icewatch.events.jsonl)")
	return cmd
}

func formatEvent(ev otel.Event, raw []byte, rawJSON bool) string {
	if rawJSON {
		return string(raw)
	}
	lvl := strings.ToUpper(string(ev.Level))
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-18s", ev.Time.Format("15:04:05.000"), lvl, ev.Comp, ev.Kind)}

	if ev.Cluster != 0 {
		parts = append(parts, fmt.Sprintf("#%d", ev.Cluster))
	}
	if ev.Msg != "" {
		parts = append(parts, ev.Msg)
	}
	if ev.Location != "" {
		parts = append(parts, fmt.Sprintf("loc=%q", ev.Location))
	}
	if ev.Confidence > 0 {
		parts = append(parts, fmt.Sprintf("conf=%.2f", ev.Confidence))
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Source != "" {
		parts = append(parts, "src="+ev.Source)
	}
	if ev.ReportID != "" {
		parts = append(parts, "id="+ev.ReportID)
	}
	if ev.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason=%q", ev.Reason))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	return strings.Join(parts, " ")
}

type parsedLine struct {
	ev  otel.Event
	raw []byte
}

// readTailLines reads r to the end and returns the last n lines matching
// the filter. Malformed lines are skipped.
func readTailLines(r io.Reader, n int, match func(otel.Event) bool) []parsedLine {
	if n <= 0 {
		return nil
	}
	scanner := bufio.NewScanner(r)
	// Allow large lines (some events carry big Extra maps)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	ring := make([]parsedLine, 0, n)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev otel.Event
		if json.Unmarshal(raw, &ev) != nil || !match(ev) {
			continue
		}
		// scanner reuses its buffer
		line := parsedLine{ev: ev, raw: append([]byte(nil), raw...)}
		if len(ring) < n {
			ring = append(ring, line)
		} else {
			copy(ring, ring[1:])
			ring[n-1] = line
		}
	}
	return ring
}

// followEvents polls r for appended lines until ctx is cancelled.
func followEvents(ctx context.Context, r io.Reader, out io.Writer, match func(otel.Event) bool, rawJSON bool) error {
	reader := bufio.NewReader(r)
	var pending []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return err
		}

		line := trimLine(pending)
		pending = pending[:0]
		if len(line) == 0 {
			continue
		}
		var ev otel.Event
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if match(ev) {
			fmt.Fprintln(out, formatEvent(ev, line, rawJSON))
		}
	}
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
