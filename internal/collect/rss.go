package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

// RSSProducer polls RSS and Atom feeds.
type RSSProducer struct {
	base
	feeds []string
}

// NewRSSProducer creates a producer for the given feed URLs.
func NewRSSProducer(name string, feeds []string, interval time.Duration, opts Options) *RSSProducer {
	return &RSSProducer{
		base:  newBase(name, interval, opts),
		feeds: feeds,
	}
}

// Type returns model.SourceRSS.
func (p *RSSProducer) Type() model.SourceType { return model.SourceRSS }

// Collect fetches every feed. A failing feed is logged and skipped; the
// pass fails only when every feed fails.
func (p *RSSProducer) Collect(ctx context.Context) ([]model.RawReport, error) {
	var (
		reports []model.RawReport
		errs    []error
	)
	for _, url := range p.feeds {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		items, err := p.fetchFeed(ctx, url)
		if err != nil {
			logging.Warn("rss: feed failed", "feed", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		reports = append(reports, items...)
	}
	if len(errs) > 0 && len(errs) == len(p.feeds) {
		return nil, errors.Join(errs...)
	}
	return reports, nil
}

func (p *RSSProducer) fetchFeed(ctx context.Context, url string) ([]model.RawReport, error) {
	resp, err := p.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	now := p.now().UTC()
	reports := make([]model.RawReport, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := entryID(item)
		text := joinText(item.Title, item.Description)
		if !p.admit(id, text, model.SourceRSS) {
			continue
		}
		reports = append(reports, model.RawReport{
			SourceType:  model.SourceRSS,
			SourceID:    id,
			SourceURL:   item.Link,
			Author:      entryAuthor(item, feed, url),
			Text:        text,
			Timestamp:   entryTime(item, now),
			CollectedAt: now,
			Metadata: map[string]any{
				"feed_url":   url,
				"feed_title": feed.Title,
				"tags":       append([]string(nil), item.Categories...),
			},
		})
	}
	return reports, nil
}

// entryID prefers the GUID, then the link, then the title.
func entryID(item *gofeed.Item) string {
	switch {
	case item.GUID != "":
		return item.GUID
	case item.Link != "":
		return item.Link
	}
	return item.Title
}

func entryAuthor(item *gofeed.Item, feed *gofeed.Feed, url string) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if feed.Title != "" {
		return feed.Title
	}
	return url
}

// entryTime returns the published time, then the updated time, then now.
func entryTime(item *gofeed.Item, now time.Time) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return now
}
