package model

import "strings"

// SourceType identifies which collector produced a report.
// The set is open: locales may name any number of trusted aggregators.
type SourceType string

const (
	SourceTwitter SourceType = "twitter"
	SourceBluesky SourceType = "bluesky"
	SourceReddit  SourceType = "reddit"
	SourceRSS     SourceType = "rss"
	SourceIceout  SourceType = "iceout"
	SourceStopICE SourceType = "stopice"
	SourceReplay  SourceType = "replay"
)

// Normalize lower-cases and trims a source type so lookups are stable.
func (s SourceType) Normalize() SourceType {
	return SourceType(strings.ToLower(strings.TrimSpace(string(s))))
}

// Label returns a human-readable name for display.
func (s SourceType) Label() string {
	switch s.Normalize() {
	case SourceTwitter:
		return "Twitter/X"
	case SourceBluesky:
		return "Bluesky"
	case SourceReddit:
		return "Reddit"
	case SourceRSS:
		return "News (RSS)"
	case SourceIceout:
		return "Iceout.org"
	case SourceStopICE:
		return "StopICE"
	case "":
		return "unknown"
	}
	return string(s)
}

// TrustTier governs how strictly retrospective content is filtered.
type TrustTier string

const (
	// TierTrusted sources already curate for real-time relevance.
	TierTrusted TrustTier = "trusted"
	// TierStandard is the default for general community sources.
	TierStandard TrustTier = "standard"
	// TierStrict sources must positively show immediacy.
	TierStrict TrustTier = "strict"
)

// ParseTrustTier maps a config string to a tier. Unknown values are Standard.
func ParseTrustTier(s string) TrustTier {
	switch TrustTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierTrusted:
		return TierTrusted
	case TierStrict:
		return TierStrict
	default:
		return TierStandard
	}
}

// Poll interval presets in seconds.
const (
	PollFast   = 60  // social search, aggregators
	PollNormal = 120 // forums
	PollSlow   = 300 // news feeds
)
