// icewatch watches public sources for reports of ICE activity in one
// metro area, groups reports that describe the same incident and sends
// corroborated alerts to Discord.
//
// Usage:
//
//	icewatch run                   # headless, logs to stderr
//	icewatch watch                 # live terminal board
//	icewatch check "ICE agents at Lake Street right now"
//	icewatch replay reports.jsonl
//	icewatch incidents -n 20
//	icewatch events -f --kind incident
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	configPath string
	localeFlag string
	dbFlag     string
	dryRunFlag bool
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "icewatch",
		Short: "Corroborate community reports of ICE activity",
		Long: `icewatch polls Reddit and local news feeds for reports of ICE activity,
keeps the ones that name a known place in the configured metro area, and
clusters similar reports into incidents. Each incident carries a confidence
score that grows as independent sources agree, and new or updated incidents
are posted to a Discord webhook.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.icewatch/config.json)")
	rootCmd.PersistentFlags().StringVar(&localeFlag, "locale", "", "Built-in locale name or path to a locale YAML file")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().BoolVar(&dryRunFlag, "dry-run", false, "Log alerts instead of posting them")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(incidentsCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
