package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/config"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/ui"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline with a live incident board",
		Long: `Watch runs the same pipeline as "run" behind a terminal board listing
open and recently closed incidents, their reports and recent filter
decisions. Logs go to ~/.icewatch/logs so they never share the terminal.

Keys: j/k move, enter expands, D toggles the journal overlay, q quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Init(config.DataDir()); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer logging.Close()

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

			app := ui.NewApp(ui.Options{
				Title:        w.filter.Locale().Fallback(),
				Bands:        notify.Bands{Medium: cfg.Bands.Medium, High: cfg.Bands.High},
				MaxIncidents: cfg.UI.MaxIncidents,
				ActivityRows: cfg.UI.ActivityRows,
				Ring:         w.ring,
			})
			program := tea.NewProgram(app, tea.WithAltScreen())
			w.pipeline.SetProgram(program)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- w.pipeline.Run(ctx) }()

			_, uiErr := program.Run()

			// Stop the pipeline and let the dispatcher drain before closing
			// the store underneath it.
			cancel()
			if err := <-done; err != nil {
				logging.Error("pipeline", "error", err)
			}
			return uiErr
		},
	}
}
