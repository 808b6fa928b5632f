package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/collect"
	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/ui"
)

// replayTally counts what happened to replayed reports.
type replayTally struct {
	Reports   int
	Rejected  int
	Duplicate int
	New       int
	Updates   int
	Closed    int
}

func replayCmd() *cobra.Command {
	var (
		save bool
		send bool
	)

	cmd := &cobra.Command{
		Use:   "replay <reports.jsonl>",
		Short: "Run recorded reports through the pipeline",
		Long: `Replay reads reports from a JSON Lines file ("-" for stdin), sorts them
by report time and runs them through the filter and the corroboration
engine with the engine clock following report timestamps, so windows
behave as they did live. Alerts go to the log only unless --send is given;
incidents are stored only with --save.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitWriter(os.Stderr, logging.ParseLevel(logLevel))

			reports, err := readReportFile(cmd, args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Updates are coalesced on wall time, which means nothing here.
			cfg.Notify.UpdateIntervalSeconds = -1
			if len(reports) > cfg.Notify.QueueSize {
				cfg.Notify.QueueSize = len(reports)
			}

			w, err := wire(cfg, wireOptions{store: save, discord: send, journal: true, follow: true})
			if err != nil {
				return err
			}
			defer w.Close()

			tally, err := replay(w, reports)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bands := notify.Bands{Medium: cfg.Bands.Medium, High: cfg.Bands.High}
			printReplay(out, tally, w.engine, bands)
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Store incidents in the database")
	cmd.Flags().BoolVar(&send, "send", false, "Deliver alerts to Discord (dry-run still applies)")
	return cmd
}

func readReportFile(cmd *cobra.Command, path string) ([]model.RawReport, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	reports, err := collect.ReadReports(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// replay feeds reports through the pipeline while the dispatcher runs,
// then closes incidents idle at the last report time and waits for every
// queued alert to be delivered.
func replay(w *wiring, reports []model.RawReport) (replayTally, error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.dispatcher.Run(ctx) }()

	tally := replayTally{Reports: len(reports)}
	for _, r := range reports {
		res := w.pipeline.Process(r)
		switch {
		case !res.Verdict.Relevant:
			tally.Rejected++
		case res.Duplicate:
			tally.Duplicate++
		case res.Emitted && res.Event.Kind == correlation.KindNew:
			tally.New++
		case res.Emitted:
			tally.Updates++
		}
	}
	w.pipeline.Flush()
	tally.Closed = w.engine.Stats().IncidentsClosed

	cancel()
	return tally, <-done
}

func printReplay(out io.Writer, t replayTally, engine *correlation.Engine, bands notify.Bands) {
	fmt.Fprintf(out, "%d reports: %d rejected, %d duplicate, %d new incidents, %d updates, %d closed\n\n",
		t.Reports, t.Rejected, t.Duplicate, t.New, t.Updates, t.Closed)

	incidents := append(engine.Open(), engine.Closed()...)
	if len(incidents) == 0 {
		fmt.Fprintln(out, ui.MutedText.Render("no incidents"))
		return
	}
	slices.SortFunc(incidents, func(a, b correlation.Incident) int {
		return cmp.Compare(a.ClusterID, b.ClusterID)
	})
	zone := displayZone()
	for _, inc := range incidents {
		fmt.Fprintln(out, formatIncident(summarize(inc), bands, zone))
	}
}
