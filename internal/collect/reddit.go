package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

const (
	redditEndpoint = "https://www.reddit.com"
	redditLimit    = 25
)

// RedditProducer polls the newest submissions of a set of subreddits
// through the public listing JSON.
type RedditProducer struct {
	base
	subreddits []string
	endpoint   string
	limit      int
	userAgent  string
	limiter    *rate.Limiter
}

// NewRedditProducer creates a producer for the given subreddits.
func NewRedditProducer(name string, subreddits []string, interval time.Duration, opts Options) *RedditProducer {
	return &RedditProducer{
		base:       newBase(name, interval, opts),
		subreddits: subreddits,
		endpoint:   redditEndpoint,
		limit:      redditLimit,
		userAgent:  userAgent,
		// Unauthenticated listing requests are throttled aggressively.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Type returns model.SourceReddit.
func (p *RedditProducer) Type() model.SourceType { return model.SourceReddit }

// redditListing is the subset of a listing response we read.
type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Permalink     string  `json:"permalink"`
	Author        string  `json:"author"`
	CreatedUTC    float64 `json:"created_utc"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	LinkFlairText *string `json:"link_flair_text"`
}

// Collect fetches each subreddit. A failing subreddit is logged and
// skipped; the pass fails only when every subreddit fails.
func (p *RedditProducer) Collect(ctx context.Context) ([]model.RawReport, error) {
	var (
		reports []model.RawReport
		errs    []error
	)
	for _, sub := range p.subreddits {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		items, err := p.fetchSubreddit(ctx, sub)
		if err != nil {
			logging.Warn("reddit: subreddit failed", "subreddit", sub, "error", err)
			errs = append(errs, fmt.Errorf("r/%s: %w", sub, err))
			continue
		}
		reports = append(reports, items...)
	}
	if len(errs) > 0 && len(errs) == len(p.subreddits) {
		return nil, errors.Join(errs...)
	}
	return reports, nil
}

func (p *RedditProducer) fetchSubreddit(ctx context.Context, sub string) ([]model.RawReport, error) {
	u := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1", p.endpoint, url.PathEscape(sub), p.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	now := p.now().UTC()
	var reports []model.RawReport
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.ID == "" {
			continue
		}
		id := "reddit_" + post.ID
		text := joinText(post.Title, post.Selftext)
		if !p.admit(id, text, model.SourceReddit) {
			continue
		}

		author := post.Author
		if author == "" {
			author = "[deleted]"
		}
		var flair any
		if post.LinkFlairText != nil {
			flair = *post.LinkFlairText
		}

		reports = append(reports, model.RawReport{
			SourceType:  model.SourceReddit,
			SourceID:    id,
			SourceURL:   "https://reddit.com" + post.Permalink,
			Author:      author,
			Text:        text,
			Timestamp:   time.Unix(int64(post.CreatedUTC), 0).UTC(),
			CollectedAt: now,
			Metadata: map[string]any{
				"subreddit":       sub,
				"score":           post.Score,
				"num_comments":    post.NumComments,
				"link_flair_text": flair,
			},
		})
	}
	return reports, nil
}
