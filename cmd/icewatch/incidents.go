package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/store"
	"github.com/abelbrown/icewatch/internal/ui"
)

func incidentsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "incidents [cluster-id]",
		Short: "List stored incidents, or the reports of one",
		Long: `Incidents lists the most recently active incidents in the database.
Given a cluster id it prints that incident's reports in arrival order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid cluster id %q", args[0])
				}
				reports, err := st.IncidentReports(id)
				if err != nil {
					return err
				}
				if len(reports) == 0 {
					return fmt.Errorf("no incident #%d", id)
				}
				printReports(out, reports)
				return nil
			}

			rows, err := st.RecentIncidents(limit)
			if err != nil {
				return err
			}
			bands := notify.Bands{Medium: cfg.Bands.Medium, High: cfg.Bands.High}
			printIncidentRows(out, rows, bands)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of incidents to list")
	return cmd
}

func printIncidentRows(out io.Writer, rows []store.IncidentRow, bands notify.Bands) {
	if len(rows) == 0 {
		fmt.Fprintln(out, ui.MutedText.Render("no incidents stored"))
		return
	}
	zone := displayZone()
	for _, row := range rows {
		fmt.Fprintln(out, formatIncident(incidentSummary{
			ID:        row.ClusterID,
			Location:  row.PrimaryLocation,
			Score:     row.ConfidenceScore,
			Reports:   row.SourceCount,
			Sources:   row.SourceTypes,
			First:     row.EarliestReport,
			Last:      row.LatestReport,
			Status:    row.Status,
			Emissions: row.Emissions,
		}, bands, zone))
	}
}

func printReports(out io.Writer, reports []model.RawReport) {
	zone := displayZone()
	for _, r := range reports {
		author := r.Author
		if author == "" {
			author = "unknown"
		}
		fmt.Fprintf(out, "%s  %s  %s\n",
			r.Timestamp.In(zone).Format("Jan 2 3:04pm"),
			ui.SourceBadge.Render(r.SourceType.Label()),
			ui.MutedText.Render(author),
		)
		fmt.Fprintf(out, "  %s\n", r.Excerpt(200))
		if r.SourceURL != "" {
			fmt.Fprintf(out, "  %s\n", ui.MutedText.Render(r.SourceURL))
		}
	}
}
