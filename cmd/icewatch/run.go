package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/logging"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll sources and send alerts without a UI",
		Long: `Run polls every enabled source, corroborates what it finds and delivers
new and updated incidents to Discord and the local database. Logs go to
stderr. Stop with Ctrl-C; queued alerts are delivered before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitWriter(os.Stderr, logging.ParseLevel(logLevel))

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			w, err := wire(cfg, wireOptions{store: true, producers: true, discord: true, journal: true})
			if err != nil {
				return err
			}
			defer w.Close()
			if len(w.producers) == 0 {
				return errors.New("no sources enabled")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logging.Info("icewatch running", "version", version, "dry_run", cfg.Notify.DryRun)
			if err := w.pipeline.Run(ctx); err != nil {
				return err
			}
			stats := w.engine.Stats()
			logging.Info("stopped",
				"ingested", stats.ReportsIngested,
				"incidents", stats.IncidentsCreated,
				"delivered", w.dispatcher.Stats().Delivered,
			)
			return nil
		},
	}
}
