package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/collect"
	"github.com/abelbrown/icewatch/internal/config"
	"github.com/abelbrown/icewatch/internal/coord"
	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/locale"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/otel"
	"github.com/abelbrown/icewatch/internal/relevance"
	"github.com/abelbrown/icewatch/internal/store"
)

// journalPath returns the path to the JSONL event journal.
func journalPath() string {
	return filepath.Join(config.DataDir(), "logs", "icewatch.events.jsonl")
}

// loadConfig reads the config file, the optional keys.sh next to it and
// the environment, then applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	keys := filepath.Join(filepath.Dir(path), "keys.sh")
	if err := cfg.LoadKeysFromFile(keys); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", keys, err)
	}

	if localeFlag != "" {
		cfg.Locale = localeFlag
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}
	if cmd.Root().PersistentFlags().Changed("dry-run") {
		cfg.Notify.DryRun = dryRunFlag
	}
	return cfg, nil
}

// loadFilter resolves the configured locale and compiles its filter.
func loadFilter(cfg *config.Config) (*relevance.Filter, error) {
	loc, err := locale.Resolve(cfg.Locale)
	if err != nil {
		return nil, err
	}
	return relevance.New(loc)
}

// wireOptions picks the parts a command needs.
type wireOptions struct {
	store     bool // persist incidents and resume cluster ids
	producers bool // poll configured sources
	discord   bool // deliver to Discord (dry-run honoured)
	journal   bool // append to the JSONL journal
	follow    bool // replay: clock follows report timestamps
}

// wiring holds everything a pipeline command runs with. Close releases it
// in reverse order of construction.
type wiring struct {
	cfg        *config.Config
	filter     *relevance.Filter
	engine     *correlation.Engine
	store      *store.Store
	dispatcher *notify.Dispatcher
	journal    *otel.Logger
	ring       *otel.RingBuffer
	producers  []collect.Producer
	pipeline   *coord.Pipeline
}

func wire(cfg *config.Config, opts wireOptions) (*wiring, error) {
	w := &wiring{cfg: cfg, ring: otel.NewRingBuffer(otel.DefaultRingSize)}

	filter, err := loadFilter(cfg)
	if err != nil {
		return nil, err
	}
	w.filter = filter

	if opts.journal && cfg.Journal {
		w.journal, err = otel.OpenJournal(journalPath())
		if err != nil {
			return nil, err
		}
	} else {
		w.journal = otel.NewNullLogger()
	}
	w.journal.SetRingBuffer(w.ring)

	engineCfg := cfg.Engine.Correlation()
	var primed []string
	if opts.store {
		w.store, err = store.Open(cfg.Database())
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		if engineCfg.StartID, err = w.store.MaxClusterID(); err != nil {
			w.Close()
			return nil, err
		}
		if primed, err = w.store.RecentReportKeys(engineCfg.SeenCapacity); err != nil {
			w.Close()
			return nil, err
		}
	}
	w.engine = correlation.NewEngine(engineCfg)
	w.engine.Prime(primed)

	senders := []notify.Sender{notify.LogSender{}}
	if opts.discord {
		discord, err := notify.NewDiscordSender(notify.DiscordConfig{
			WebhookURL:       cfg.Notify.DiscordWebhook,
			Username:         cfg.Notify.Username,
			DryRun:           cfg.Notify.DryRun || cfg.Notify.DiscordWebhook == "",
			Bands:            notify.Bands{Medium: cfg.Bands.Medium, High: cfg.Bands.High},
			FallbackLocation: filter.Locale().Fallback(),
			MaxRetries:       cfg.Notify.MaxRetries,
		})
		if err != nil {
			w.Close()
			return nil, err
		}
		senders = append(senders, discord)
	}
	if w.store != nil {
		st := w.store
		senders = append(senders, notify.SenderFunc("store", func(_ context.Context, ev correlation.Event) error {
			return st.SaveEvent(ev)
		}))
	}
	w.dispatcher = notify.NewDispatcher(notify.DispatcherOptions{
		QueueSize:      cfg.Notify.QueueSize,
		UpdateInterval: time.Duration(cfg.Notify.UpdateIntervalSeconds) * time.Second,
	}, senders...)
	journal := w.journal
	w.dispatcher.OnError(func(sender string, ev correlation.Event, err error) {
		kind := otel.KindNotifyError
		if sender == "store" {
			kind = otel.KindStoreError
		}
		journal.Emit(otel.Event{
			Level:   otel.LevelError,
			Kind:    kind,
			Comp:    "notify",
			Cluster: ev.Incident.ClusterID,
			Source:  sender,
			Err:     err.Error(),
		})
	})

	if opts.producers {
		w.producers, err = collect.FromConfig(cfg, collect.Options{
			Prefilter:    filter.IsRelevant,
			SeenCapacity: engineCfg.SeenCapacity,
		})
		if err != nil {
			w.Close()
			return nil, err
		}
	}

	popts := coord.Options{
		Filter:           w.filter,
		Engine:           w.engine,
		Dispatcher:       w.dispatcher,
		Journal:          w.journal,
		Producers:        w.producers,
		SweepInterval:    cfg.Engine.SweepInterval(),
		FollowReportTime: opts.follow,
	}
	if w.store != nil {
		popts.Closer = w.store
		popts.Sequencer = w.store
	}
	w.pipeline, err = coord.New(popts)
	if err != nil {
		w.Close()
		return nil, err
	}

	logging.Info("wired",
		"locale", filter.Locale().DisplayName,
		"producers", len(w.producers),
		"senders", w.dispatcher.Senders(),
		"start_id", engineCfg.StartID,
		"primed", len(primed),
	)
	w.journal.Info(otel.KindStartup, "main", "icewatch "+version)
	return w, nil
}

// Close shuts down the journal and the store.
func (w *wiring) Close() {
	if w.journal != nil {
		w.journal.Info(otel.KindShutdown, "main", "")
		w.journal.Close()
	}
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			logging.Error("close store", "error", err)
		}
	}
}
