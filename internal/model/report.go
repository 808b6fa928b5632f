// Package model defines the records that flow through the corroboration
// pipeline.
//
// A RawReport is created by a collector and is immutable once Annotate has
// filled its derived fields. Reports are shared by value; Metadata is never
// written after construction.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawReport is one observation from one source.
type RawReport struct {
	SourceType  SourceType     `json:"source_type"`
	SourceID    string         `json:"source_id"`
	SourceURL   string         `json:"source_url,omitempty"`
	Author      string         `json:"author,omitempty"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	CollectedAt time.Time      `json:"collected_at"`
	Metadata    map[string]any `json:"raw_metadata,omitempty"`

	// Derived once on ingest.
	CleanText       string   `json:"-"`
	SubjectMatches  []string `json:"-"`
	LocationMatches []string `json:"-"`
	Location        string   `json:"-"`
}

// Key returns the de-duplication key for the report.
// Reports without a source ID are keyed by a hash of URL and text.
func (r RawReport) Key() string {
	id := r.SourceID
	if id == "" {
		id = "h:" + hashString(r.SourceURL+"\n"+r.Text)
	}
	return string(r.SourceType.Normalize()) + "\x00" + id
}

// EventTime returns the best available event time: Timestamp, then
// CollectedAt, then now.
func (r RawReport) EventTime(now time.Time) time.Time {
	if !r.Timestamp.IsZero() {
		return r.Timestamp.UTC()
	}
	if !r.CollectedAt.IsZero() {
		return r.CollectedAt.UTC()
	}
	return now.UTC()
}

// Excerpt returns the first n runes of the raw text with newlines flattened.
func (r RawReport) Excerpt(n int) string {
	runes := []rune(r.Text)
	for i, c := range runes {
		if c == '\n' || c == '\r' {
			runes[i] = ' '
		}
	}
	if len(runes) <= n {
		return string(runes)
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// hashString creates a short hash of a string for use as an ID.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}
