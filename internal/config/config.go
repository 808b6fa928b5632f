package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
)

// Config is the persistent application configuration
type Config struct {
	// Locale is a built-in locale name or a path to a locale YAML file
	Locale string `json:"locale"`

	// DBPath is the SQLite database; empty means DataDir/icewatch.db
	DBPath string `json:"db_path,omitempty"`

	// Journal enables the JSONL event journal under DataDir/logs
	Journal bool `json:"journal"`

	Engine  EngineConfig   `json:"engine"`
	Bands   BandConfig     `json:"bands"`
	Sources []SourceConfig `json:"sources"`
	Notify  NotifyConfig   `json:"notify"`
	UI      UIConfig       `json:"ui"`
}

// EngineConfig holds corroboration thresholds. Windows are in minutes.
type EngineConfig struct {
	SimilarityThreshold float64                       `json:"similarity_threshold"`
	SampleSize          int                           `json:"sample_size"`
	MatchWindowMinutes  int                           `json:"match_window_minutes"`
	InactivityMinutes   int                           `json:"inactivity_minutes"`
	RetentionMinutes    int                           `json:"retention_minutes"`
	SeenCapacity        int                           `json:"seen_capacity"`
	MaxFeatures         int                           `json:"max_features"`
	SweepSeconds        int                           `json:"sweep_seconds"`
	Confidence          correlation.ConfidenceWeights `json:"confidence"`
}

// BandConfig holds the confidence band lower bounds
type BandConfig struct {
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// SourceConfig configures one producer
type SourceConfig struct {
	Type        string   `json:"type"` // "rss", "reddit", "replay"
	Name        string   `json:"name"`
	Feeds       []string `json:"feeds,omitempty"`
	Subreddits  []string `json:"subreddits,omitempty"`
	Path        string   `json:"path,omitempty"`
	Endpoint    string   `json:"endpoint,omitempty"` // Override base URL (tests, mirrors)
	UserAgent   string   `json:"user_agent,omitempty"`
	PollSeconds int      `json:"poll_seconds"`
	Limit       int      `json:"limit,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
}

// PollInterval returns the configured poll interval
func (s SourceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollSeconds) * time.Second
}

// NotifyConfig holds alert delivery settings
type NotifyConfig struct {
	DiscordWebhook        string `json:"discord_webhook,omitempty"`
	DryRun                bool   `json:"dry_run"`
	QueueSize             int    `json:"queue_size"`
	MaxRetries            int    `json:"max_retries"`
	UpdateIntervalSeconds int    `json:"update_interval_seconds"` // Min gap between update alerts per incident
	Username              string `json:"username"`
}

// UIConfig holds UI preferences
type UIConfig struct {
	MaxIncidents int `json:"max_incidents"`
	ActivityRows int `json:"activity_rows"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Locale:  "minneapolis",
		Journal: true,
		Engine: EngineConfig{
			SimilarityThreshold: 0.25,
			SampleSize:          5,
			MatchWindowMinutes:  120,
			InactivityMinutes:   180,
			RetentionMinutes:    24 * 60,
			SeenCapacity:        10000,
			MaxFeatures:         1000,
			SweepSeconds:        60,
			Confidence:          correlation.DefaultWeights,
		},
		Bands: BandConfig{
			Medium: 0.45,
			High:   0.70,
		},
		Sources: []SourceConfig{
			{
				Type:        "reddit",
				Name:        "reddit",
				Subreddits:  []string{"Minneapolis", "TwinCities", "minnesota"},
				PollSeconds: 120,
				Limit:       25,
			},
			{
				Type:        "rss",
				Name:        "rss",
				Feeds:       []string{"https://www.mprnews.org/feeds/news", "https://sahanjournal.com/feed/"},
				PollSeconds: 300,
			},
		},
		Notify: NotifyConfig{
			DryRun:                true, // Nothing is posted until a webhook is configured
			QueueSize:             64,
			MaxRetries:            3,
			UpdateIntervalSeconds: 60,
			Username:              "icewatch",
		},
		UI: UIConfig{
			MaxIncidents: 20,
			ActivityRows: 8,
		},
	}
}

// DataDir returns the application data directory
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".icewatch")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// Database returns the SQLite path
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(DataDir(), "icewatch.db")
}

// Load reads config from the default path, or returns defaults
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads config from path. A missing file yields defaults; keys
// absent from the file keep their defaults. Environment overrides apply in
// both cases.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		logging.Warn("config: unreadable, using defaults", "path", path, "error", err)
		cfg = DefaultConfig()
	}
	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes config to path
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for the webhook URL
}

// AutoPopulateFromEnv applies environment overrides
func (c *Config) AutoPopulateFromEnv() {
	if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
		c.setWebhook(url)
	}
	if url := os.Getenv("ICEWATCH_DISCORD_WEBHOOK"); url != "" {
		c.setWebhook(url)
	}
	if loc := os.Getenv("ICEWATCH_LOCALE"); loc != "" {
		c.Locale = loc
	}
	if db := os.Getenv("ICEWATCH_DB"); db != "" {
		c.DBPath = db
	}
	if v := os.Getenv("ICEWATCH_DRY_RUN"); v != "" {
		if dry, err := strconv.ParseBool(v); err == nil {
			c.Notify.DryRun = dry
		}
	}
}

// setWebhook sets the Discord webhook and turns off dry-run
func (c *Config) setWebhook(url string) {
	c.Notify.DiscordWebhook = url
	c.Notify.DryRun = false
}

// LoadKeysFromFile loads settings from a shell script (like keys.sh)
func (c *Config) LoadKeysFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Simple parser for export KEY=value lines
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)

		switch key {
		case "ICEWATCH_DISCORD_WEBHOOK", "DISCORD_WEBHOOK_URL":
			c.setWebhook(value)
		case "ICEWATCH_LOCALE":
			c.Locale = value
		case "ICEWATCH_DB":
			c.DBPath = value
		}
	}

	return nil
}

// EnabledSources returns sources not marked disabled
func (c *Config) EnabledSources() []SourceConfig {
	var result []SourceConfig
	for _, s := range c.Sources {
		if !s.Disabled {
			result = append(result, s)
		}
	}
	return result
}

// Correlation converts engine settings for the correlation engine
func (e EngineConfig) Correlation() correlation.Config {
	return correlation.Config{
		SimilarityThreshold: e.SimilarityThreshold,
		SampleSize:          e.SampleSize,
		MatchWindow:         time.Duration(e.MatchWindowMinutes) * time.Minute,
		InactivityWindow:    time.Duration(e.InactivityMinutes) * time.Minute,
		Retention:           time.Duration(e.RetentionMinutes) * time.Minute,
		SeenCapacity:        e.SeenCapacity,
		MaxFeatures:         e.MaxFeatures,
		Weights:             e.Confidence,
	}
}

// SweepInterval returns how often the engine closes idle incidents
func (e EngineConfig) SweepInterval() time.Duration {
	if e.SweepSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(e.SweepSeconds) * time.Second
}
