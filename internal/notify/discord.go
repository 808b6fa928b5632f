package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Central time display without a system zoneinfo

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

const (
	defaultDiscordTimeout = 10 * time.Second
	defaultMaxRetries     = 2
	excerptLength         = 120
	maxNewFields          = 6
	maxUpdateFields       = 4
	footerText            = "ICE Activity Monitor | Unverified community reporting | Confirm before acting"
)

// Embed colours.
const (
	ColorNewHigh   = 0xFF0000
	ColorNewMedium = 0xFF4500
	ColorNewLow    = 0xFF8C00
	ColorUpdate    = 0x3498DB
)

// WebhookPayload is the JSON body POSTed to a Discord webhook.
type WebhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

// Embed is a Discord rich embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is one name/value block in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small text under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordConfig holds the configuration for creating a DiscordSender.
type DiscordConfig struct {
	WebhookURL       string
	Username         string
	DryRun           bool
	Bands            Bands
	FallbackLocation string
	TimeoutSeconds   int
	MaxRetries       int
	Zone             *time.Location // display zone for report times; default America/Chicago
}

// DiscordSender posts incident embeds to a Discord webhook. In dry-run mode
// it logs what it would send instead.
type DiscordSender struct {
	httpClient *http.Client
	url        string
	username   string
	dryRun     bool
	bands      Bands
	fallback   string
	maxRetries int
	zone       *time.Location
	now        func() time.Time
	retryDelay func(attempt int) time.Duration
}

// NewDiscordSender creates a DiscordSender. The webhook URL is required
// unless DryRun is set.
func NewDiscordSender(cfg DiscordConfig) (*DiscordSender, error) {
	if !cfg.DryRun {
		if err := validateWebhookURL(cfg.WebhookURL); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = defaultDiscordTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}
	bands := cfg.Bands
	if bands == (Bands{}) {
		bands = DefaultBands
	}
	fallback := cfg.FallbackLocation
	if fallback == "" {
		fallback = "Minneapolis area"
	}
	zone := cfg.Zone
	if zone == nil {
		zone = centralZone()
	}
	username := cfg.Username
	if username == "" {
		username = "ICE Activity Monitor"
	}

	return &DiscordSender{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.WebhookURL,
		username:   username,
		dryRun:     cfg.DryRun,
		bands:      bands,
		fallback:   fallback,
		maxRetries: retries,
		zone:       zone,
		now:        time.Now,
		// Linear backoff: 1s, 2s.
		retryDelay: func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
	}, nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("discord webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL must include a host")
	}
	return nil
}

func centralZone() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// Name implements Sender.
func (s *DiscordSender) Name() string { return "discord" }

// DryRun reports whether the sender only logs.
func (s *DiscordSender) DryRun() bool { return s.dryRun }

// Send implements Sender.
func (s *DiscordSender) Send(ctx context.Context, ev correlation.Event) error {
	embed := s.BuildEmbed(ev)
	inc := ev.Incident

	if s.dryRun {
		logging.Info("discord: dry run, would send",
			"kind", strings.ToUpper(string(ev.Kind)),
			"cluster", inc.ClusterID,
			"location", inc.PrimaryLocation,
			"sources", inc.SourceCount,
			"title", embed.Title,
		)
		return nil
	}

	body, err := json.Marshal(WebhookPayload{Username: s.username, Embeds: []Embed{embed}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := s.doSend(ctx, body); err != nil {
		return err
	}
	logging.Info("discord: sent notification", "kind", ev.Kind, "cluster", inc.ClusterID)
	return nil
}

// BuildEmbed renders the embed for an event.
func (s *DiscordSender) BuildEmbed(ev correlation.Event) Embed {
	if ev.Kind == correlation.KindUpdate {
		return s.updateEmbed(ev.Incident)
	}
	return s.newEmbed(ev.Incident)
}

func (s *DiscordSender) newEmbed(inc correlation.Incident) Embed {
	band := s.bands.Of(inc.ConfidenceScore)

	timeStr := s.clock(inc.EarliestReport)
	if !inc.EarliestReport.Equal(inc.LatestReport) {
		timeStr += " - " + s.clock(inc.LatestReport)
	}

	platforms := make([]string, 0, len(inc.UniqueSourceTypes))
	for _, t := range inc.UniqueSourceTypes {
		platforms = append(platforms, t.Label())
	}
	sort.Strings(platforms)

	reports := inc.Reports
	if len(reports) > maxNewFields {
		reports = reports[:maxNewFields]
	}

	return Embed{
		Title: "ICE ACTIVITY: " + s.location(inc),
		Description: fmt.Sprintf("**%s confidence** | %d reports across %s\nFirst reported: %s CT",
			band, inc.SourceCount, strings.Join(platforms, ", "), timeStr),
		Color:     s.color(correlation.KindNew, band),
		Fields:    reportFields(reports, ""),
		Footer:    &EmbedFooter{Text: footerText},
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
}

func (s *DiscordSender) updateEmbed(inc correlation.Incident) Embed {
	band := s.bands.Of(inc.ConfidenceScore)

	reports := inc.NewReports
	if len(reports) > maxUpdateFields {
		reports = reports[:maxUpdateFields]
	}

	return Embed{
		Title: "UPDATE: " + s.location(inc),
		Description: fmt.Sprintf("**%d new source(s)** confirming earlier reports\nNow at **%s** confidence | %d total reports",
			len(inc.NewReports), band, inc.SourceCount),
		Color:     ColorUpdate,
		Fields:    reportFields(reports, "NEW: "),
		Footer:    &EmbedFooter{Text: footerText},
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
}

func reportFields(reports []model.RawReport, prefix string) []EmbedField {
	fields := make([]EmbedField, 0, len(reports))
	for _, r := range reports {
		value := strings.TrimSpace(r.Excerpt(excerptLength))
		if r.SourceURL != "" {
			value += "\n[source](" + r.SourceURL + ")"
		}
		author := r.Author
		if author == "" {
			author = "unknown"
		}
		fields = append(fields, EmbedField{
			Name:  prefix + r.SourceType.Label() + " - " + author,
			Value: value,
		})
	}
	return fields
}

func (s *DiscordSender) color(kind correlation.Kind, band Band) int {
	if kind == correlation.KindUpdate {
		return ColorUpdate
	}
	switch band {
	case BandHigh:
		return ColorNewHigh
	case BandMedium:
		return ColorNewMedium
	}
	return ColorNewLow
}

func (s *DiscordSender) location(inc correlation.Incident) string {
	if inc.PrimaryLocation != "" {
		return inc.PrimaryLocation
	}
	return s.fallback
}

// clock formats a time as "3:04pm" in the display zone.
func (s *DiscordSender) clock(t time.Time) string {
	return strings.ToLower(t.In(s.zone).Format("3:04PM"))
}

// doSend performs the HTTP POST with retry logic.
func (s *DiscordSender) doSend(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := range s.maxRetries + 1 {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			var we *webhookError
			if errors.As(lastErr, &we) && we.retryAfter > delay {
				delay = we.retryAfter
			}
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			}
		}

		lastErr = s.doPost(ctx, body)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		logging.Debug("discord: transient failure, will retry", "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("webhook send failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

// doPost executes a single HTTP POST request.
func (s *DiscordSender) doPost(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &webhookError{err: err, retryable: ctx.Err() == nil}
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	we := &webhookError{
		err:       fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
		retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
	if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
		we.retryAfter = time.Duration(secs * float64(time.Second))
	}
	return we
}

// webhookError wraps an error with a retryable flag.
type webhookError struct {
	err        error
	retryable  bool
	retryAfter time.Duration
}

func (e *webhookError) Error() string { return e.err.Error() }
func (e *webhookError) Unwrap() error { return e.err }

// isRetryable returns true if the error is a transient failure worth retrying.
func isRetryable(err error) bool {
	var we *webhookError
	if errors.As(err, &we) {
		return we.retryable
	}
	return true
}

// RedactWebhook hides the token part of a webhook URL for logging.
func RedactWebhook(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid-url>"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
