// Package relevance decides whether a report describes enforcement activity
// happening now in the monitored area.
//
// A Filter is built once from a locale and is safe for concurrent use. All
// methods are pure: the same text and source type always produce the same
// verdict.
package relevance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/abelbrown/icewatch/internal/locale"
	"github.com/abelbrown/icewatch/internal/model"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonAccepted      Reason = "accepted"
	ReasonNoSubject     Reason = "no subject keyword"
	ReasonNoLocation    Reason = "no location keyword"
	ReasonNoise         Reason = "ambiguous keyword in noise context"
	ReasonRetrospective Reason = "retrospective framing without real-time signal"
	ReasonNotRealTime   Reason = "strict source without real-time signal"
)

// Matches lists what a text matched, each list in order of first
// appearance.
type Matches struct {
	Subject       []string
	Location      []string
	Noise         []string
	Retrospective []string
	RealTime      []string
}

// Verdict is the full result of a relevance check.
type Verdict struct {
	Relevant bool
	Reason   Reason
	Tier     model.TrustTier
	Matches  Matches
}

// keyword is a term with its word-boundary matcher.
type keyword struct {
	term string
	re   *regexp.Regexp
}

// Filter is the compiled two-tier keyword gate plus trust-tier policy.
type Filter struct {
	loc       *locale.Locale
	exact     []keyword
	phrases   []string
	ambiguous map[string]bool
	locations []keyword
	noise     []keyword
	retro     []*regexp.Regexp
	realtime  []*regexp.Regexp
}

// New compiles a Filter from a locale.
func New(loc *locale.Locale) (*Filter, error) {
	if loc == nil {
		return nil, fmt.Errorf("relevance: nil locale")
	}
	f := &Filter{
		loc:       loc,
		phrases:   loc.SubjectKeywords.Phrases,
		ambiguous: make(map[string]bool, len(loc.AmbiguousSubjectKeywords)),
		exact:     compileKeywords(loc.SubjectKeywords.Exact),
		locations: compileKeywords(loc.LocationKeywords),
		noise:     compileKeywords(loc.NoiseContexts),
	}
	for _, kw := range loc.AmbiguousSubjectKeywords {
		f.ambiguous[kw] = true
	}

	var err error
	if f.retro, err = compilePatterns(loc.RetrospectivePatterns); err != nil {
		return nil, err
	}
	if f.realtime, err = compilePatterns(loc.RealtimePatterns); err != nil {
		return nil, err
	}
	return f, nil
}

// MustNew is New for locales known to be valid, such as locale.Default.
func MustNew(loc *locale.Locale) *Filter {
	f, err := New(loc)
	if err != nil {
		panic(err)
	}
	return f
}

func compileKeywords(terms []string) []keyword {
	result := make([]keyword, 0, len(terms))
	for _, t := range terms {
		result = append(result, keyword{
			term: t,
			re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `\b`),
		})
	}
	return result
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	result := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("relevance: bad pattern %q: %w", p, err)
		}
		result = append(result, re)
	}
	return result, nil
}

// Locale returns the locale the filter was built from.
func (f *Filter) Locale() *locale.Locale {
	return f.loc
}

// IsRelevant reports whether text from the given source should enter the
// corroboration engine.
func (f *Filter) IsRelevant(text string, src model.SourceType) bool {
	return f.Explain(text, src).Relevant
}

// Explain runs the full check and reports why it passed or failed.
func (f *Filter) Explain(text string, src model.SourceType) Verdict {
	m := f.match(normalize(text))
	v := Verdict{Tier: f.loc.Tier(src), Matches: m}

	switch {
	case len(m.Subject) == 0:
		v.Reason = ReasonNoSubject
	case len(m.Location) == 0:
		v.Reason = ReasonNoLocation
	case len(m.Noise) > 0 && f.onlyAmbiguous(m.Subject):
		v.Reason = ReasonNoise
	case v.Tier == model.TierStrict && len(m.RealTime) == 0:
		v.Reason = ReasonNotRealTime
	case v.Tier == model.TierStandard && len(m.Retrospective) > 0 && len(m.RealTime) == 0:
		v.Reason = ReasonRetrospective
	default:
		v.Relevant = true
		v.Reason = ReasonAccepted
	}
	return v
}

// Match returns the keywords and patterns found in text, for diagnostics
// and location extraction.
func (f *Filter) Match(text string) Matches {
	return f.match(normalize(text))
}

// Annotate fills the derived fields of a report: cleaned text, matched
// keywords and the best-guess location label.
func (f *Filter) Annotate(r model.RawReport) model.RawReport {
	r.CleanText = Clean(r.Text)
	m := f.match(strings.ToLower(r.CleanText))
	r.SubjectMatches = m.Subject
	r.LocationMatches = m.Location
	r.Location = BestLocation(m.Location)
	return r
}

func (f *Filter) onlyAmbiguous(subject []string) bool {
	for _, s := range subject {
		if !f.ambiguous[s] {
			return false
		}
	}
	return true
}

// hit is a match position used to order results by appearance.
type hit struct {
	pos  int
	term string
}

func (f *Filter) match(lower string) Matches {
	var subject []hit
	for _, kw := range f.exact {
		if loc := kw.re.FindStringIndex(lower); loc != nil {
			subject = append(subject, hit{loc[0], kw.term})
		}
	}
	for _, p := range f.phrases {
		if i := strings.Index(lower, p); i >= 0 {
			subject = append(subject, hit{i, p})
		}
	}

	return Matches{
		Subject:       ordered(subject),
		Location:      findKeywords(lower, f.locations),
		Noise:         findKeywords(lower, f.noise),
		Retrospective: findPatterns(lower, f.retro),
		RealTime:      findPatterns(lower, f.realtime),
	}
}

func findKeywords(lower string, kws []keyword) []string {
	var hits []hit
	for _, kw := range kws {
		if loc := kw.re.FindStringIndex(lower); loc != nil {
			hits = append(hits, hit{loc[0], kw.term})
		}
	}
	return ordered(hits)
}

func findPatterns(lower string, res []*regexp.Regexp) []string {
	var hits []hit
	for _, re := range res {
		if loc := re.FindStringIndex(lower); loc != nil {
			hits = append(hits, hit{loc[0], lower[loc[0]:loc[1]]})
		}
	}
	return ordered(hits)
}

// ordered sorts hits by position, then term, and drops repeated terms.
func ordered(hits []hit) []string {
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].term < hits[j].term
	})
	seen := make(map[string]bool, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if seen[h.term] {
			continue
		}
		seen[h.term] = true
		out = append(out, h.term)
	}
	return out
}

// BestLocation picks the most specific location keyword: the longest one,
// earliest in the text on ties. The result is title-cased for display.
func BestLocation(locations []string) string {
	best := ""
	for _, l := range locations {
		if len(l) > len(best) {
			best = l
		}
	}
	if best == "" {
		return ""
	}
	// Casers carry state, so one is made per call.
	return cases.Title(language.English).String(best)
}
