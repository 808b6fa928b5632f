// Package locale loads the keyword and pattern lists that tune the
// relevance filter for one monitored area.
//
// A Locale is read once at startup and never modified. Every pattern is
// validated by Load, so a Locale returned from this package always compiles.
package locale

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abelbrown/icewatch/internal/model"
)

//go:embed locales/*.yaml
var builtin embed.FS

// DefaultName is the built-in locale used when none is configured.
const DefaultName = "minneapolis"

// Locale is the immutable, validated keyword configuration.
type Locale struct {
	Name             string `yaml:"name"`
	DisplayName      string `yaml:"display_name"`
	FallbackLocation string `yaml:"fallback_location"`

	SubjectKeywords struct {
		Exact   []string `yaml:"exact"`
		Phrases []string `yaml:"phrases"`
	} `yaml:"subject_keywords"`

	AmbiguousSubjectKeywords []string          `yaml:"ambiguous_subject_keywords"`
	LocationKeywords         []string          `yaml:"location_keywords"`
	NoiseContexts            []string          `yaml:"noise_contexts"`
	RetrospectivePatterns    []string          `yaml:"retrospective_patterns"`
	RealtimePatterns         []string          `yaml:"realtime_patterns"`
	TrustTiers               map[string]string `yaml:"trust_tiers"`
}

// Load reads a locale from a YAML file on disk.
func Load(path string) (*Locale, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locale: %w", err)
	}
	return Parse(data)
}

// Builtin returns one of the locales compiled into the binary.
func Builtin(name string) (*Locale, error) {
	data, err := builtin.ReadFile("locales/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown builtin locale %q: %w", name, err)
	}
	return Parse(data)
}

// Default returns the built-in Minneapolis locale. It panics only if the
// embedded file is broken, which the package tests rule out.
func Default() *Locale {
	loc, err := Builtin(DefaultName)
	if err != nil {
		panic(err)
	}
	return loc
}

// Resolve loads path when it names a file, otherwise a builtin by name.
// An empty string selects the default locale.
func Resolve(pathOrName string) (*Locale, error) {
	if pathOrName == "" {
		return Builtin(DefaultName)
	}
	if strings.HasSuffix(pathOrName, ".yaml") || strings.HasSuffix(pathOrName, ".yml") {
		return Load(pathOrName)
	}
	return Builtin(pathOrName)
}

// Parse decodes and validates a locale document.
func Parse(data []byte) (*Locale, error) {
	var loc Locale
	if err := yaml.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("parse locale: %w", err)
	}
	loc.normalize()
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return &loc, nil
}

// normalize lower-cases and de-duplicates keyword lists in place,
// preserving the configured order.
func (l *Locale) normalize() {
	l.SubjectKeywords.Exact = normalizeList(l.SubjectKeywords.Exact)
	l.SubjectKeywords.Phrases = normalizeList(l.SubjectKeywords.Phrases)
	l.AmbiguousSubjectKeywords = normalizeList(l.AmbiguousSubjectKeywords)
	l.LocationKeywords = normalizeList(l.LocationKeywords)
	l.NoiseContexts = normalizeList(l.NoiseContexts)

	tiers := make(map[string]string, len(l.TrustTiers))
	for src, tier := range l.TrustTiers {
		tiers[string(model.SourceType(src).Normalize())] = strings.ToLower(strings.TrimSpace(tier))
	}
	l.TrustTiers = tiers
}

// Validate checks that the locale can drive a filter.
func (l *Locale) Validate() error {
	if len(l.SubjectKeywords.Exact)+len(l.SubjectKeywords.Phrases) == 0 {
		return fmt.Errorf("locale %q: no subject keywords", l.Name)
	}
	if len(l.LocationKeywords) == 0 {
		return fmt.Errorf("locale %q: no location keywords", l.Name)
	}
	for _, group := range [][]string{l.RetrospectivePatterns, l.RealtimePatterns} {
		for _, p := range group {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return fmt.Errorf("locale %q: bad pattern %q: %w", l.Name, p, err)
			}
		}
	}
	for src, tier := range l.TrustTiers {
		switch model.TrustTier(tier) {
		case model.TierTrusted, model.TierStandard, model.TierStrict:
		default:
			return fmt.Errorf("locale %q: source %q has unknown trust tier %q", l.Name, src, tier)
		}
	}
	return nil
}

// Tier returns the trust tier for a source type. Unlisted types are Standard.
func (l *Locale) Tier(src model.SourceType) model.TrustTier {
	if tier, ok := l.TrustTiers[string(src.Normalize())]; ok {
		return model.ParseTrustTier(tier)
	}
	return model.TierStandard
}

// Fallback returns the display string used when an incident has no location.
func (l *Locale) Fallback() string {
	if l.FallbackLocation != "" {
		return l.FallbackLocation
	}
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return "unspecified location"
}

func normalizeList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
