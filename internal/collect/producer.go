// Package collect turns external sources into RawReports.
//
// Each source is a Producer: one collection pass per call, nothing else.
// Scheduling, backoff and cancellation live in Runner, which drives any
// Producer the same way.
package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abelbrown/icewatch/internal/config"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/seen"
)

// ErrUnknownSource is returned by NewFromConfig for unregistered types.
var ErrUnknownSource = errors.New("unknown source type")

// Producer performs one collection pass against a source.
type Producer interface {
	Name() string
	Type() model.SourceType
	Collect(ctx context.Context) ([]model.RawReport, error)
	PollInterval() time.Duration
}

// Prefilter decides whether a fetched text is worth emitting.
type Prefilter func(text string, src model.SourceType) bool

// Options are shared by all producers.
type Options struct {
	Client       *http.Client
	Prefilter    Prefilter
	SeenCapacity int
	Now          func() time.Time
}

// DefaultTimeout is the HTTP timeout when no client is supplied.
const DefaultTimeout = 30 * time.Second

// userAgent identifies requests to source servers.
const userAgent = "icewatch/0.3 (community incident corroboration)"

// base holds what every producer shares: identity, schedule, the seen-id
// pre-filter and the relevance pre-filter.
type base struct {
	name      string
	interval  time.Duration
	client    *http.Client
	seen      *seen.Set
	prefilter Prefilter
	now       func() time.Time
}

func newBase(name string, interval time.Duration, opts Options) base {
	b := base{
		name:      name,
		interval:  interval,
		client:    opts.Client,
		seen:      seen.New(opts.SeenCapacity),
		prefilter: opts.Prefilter,
		now:       opts.Now,
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: DefaultTimeout}
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) PollInterval() time.Duration { return b.interval }

// admit records id as seen and applies the pre-filter. Ids already seen in
// this session are rejected before the pre-filter runs.
func (b *base) admit(id, text string, src model.SourceType) bool {
	if id == "" || !b.seen.Add(id) {
		return false
	}
	if b.prefilter != nil && !b.prefilter(text, src) {
		return false
	}
	return true
}

// get performs a GET with the shared client and checks the status.
func (b *base) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// joinText builds report text from a title and optional body.
func joinText(title, body string) string {
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}

// NewFromConfig builds a producer for a configured source.
func NewFromConfig(c config.SourceConfig, opts Options) (Producer, error) {
	name := c.Name
	if name == "" {
		name = c.Type
	}
	switch model.SourceType(c.Type).Normalize() {
	case model.SourceRSS:
		if len(c.Feeds) == 0 {
			return nil, fmt.Errorf("source %s: no feeds configured", name)
		}
		return NewRSSProducer(name, c.Feeds, interval(c, model.PollSlow), opts), nil
	case model.SourceReddit:
		if len(c.Subreddits) == 0 {
			return nil, fmt.Errorf("source %s: no subreddits configured", name)
		}
		p := NewRedditProducer(name, c.Subreddits, interval(c, model.PollNormal), opts)
		if c.Endpoint != "" {
			p.endpoint = c.Endpoint
		}
		if c.Limit > 0 {
			p.limit = c.Limit
		}
		if c.UserAgent != "" {
			p.userAgent = c.UserAgent
		}
		return p, nil
	case model.SourceReplay:
		if c.Path == "" {
			return nil, fmt.Errorf("source %s: no path configured", name)
		}
		return NewFileProducer(name, c.Path, interval(c, model.PollFast), opts), nil
	default:
		return nil, fmt.Errorf("source %s: %w: %q", name, ErrUnknownSource, c.Type)
	}
}

func interval(c config.SourceConfig, fallbackSeconds int) time.Duration {
	if d := c.PollInterval(); d > 0 {
		return d
	}
	return time.Duration(fallbackSeconds) * time.Second
}

// FromConfig builds producers for every enabled source.
func FromConfig(cfg *config.Config, opts Options) ([]Producer, error) {
	var producers []Producer
	for _, sc := range cfg.EnabledSources() {
		p, err := NewFromConfig(sc, opts)
		if err != nil {
			return nil, err
		}
		producers = append(producers, p)
	}
	return producers, nil
}
