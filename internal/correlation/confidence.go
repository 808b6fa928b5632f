package correlation

import (
	"math"

	"github.com/abelbrown/icewatch/internal/model"
)

// ConfidenceWeights shape the confidence curve.
//
// Confidence is 1 minus a residual doubt. A single report leaves Initial
// doubt. Each additional distinct source type multiplies the doubt by
// Diversity. The j-th repeat of an already represented type multiplies it
// by 1 - Repeat*RepeatDecay^(j-1), so repeats help less each time and never
// as much as a new type.
type ConfidenceWeights struct {
	Initial     float64 `json:"initial"`
	Diversity   float64 `json:"diversity"`
	Repeat      float64 `json:"repeat"`
	RepeatDecay float64 `json:"repeat_decay"`
}

// DefaultWeights gives 0.25 for one report, 0.55 for two source types and
// 0.73 for three.
var DefaultWeights = ConfidenceWeights{
	Initial:     0.75,
	Diversity:   0.6,
	Repeat:      0.12,
	RepeatDecay: 0.5,
}

// Confidence scores source counts with DefaultWeights.
func Confidence(counts map[model.SourceType]int) float64 {
	return DefaultWeights.Confidence(counts)
}

// Confidence returns a score in [0, 1] for the given per-type report counts.
// Adding a report never lowers the score.
func (w ConfidenceWeights) Confidence(counts map[model.SourceType]int) float64 {
	w = w.sanitized()

	unique := 0
	doubt := w.Initial
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		unique++
		factor := w.Repeat
		for j := 1; j < c; j++ {
			doubt *= 1 - factor
			factor *= w.RepeatDecay
		}
	}
	if unique == 0 {
		return 0
	}
	doubt *= math.Pow(w.Diversity, float64(unique-1))

	return clamp01(1 - doubt)
}

// sanitized replaces out-of-range weights with defaults so the score stays
// bounded and monotone.
func (w ConfidenceWeights) sanitized() ConfidenceWeights {
	if w.Initial <= 0 || w.Initial > 1 {
		w.Initial = DefaultWeights.Initial
	}
	if w.Diversity <= 0 || w.Diversity > 1 {
		w.Diversity = DefaultWeights.Diversity
	}
	if w.Repeat < 0 || w.Repeat >= 1 {
		w.Repeat = DefaultWeights.Repeat
	}
	if w.RepeatDecay < 0 || w.RepeatDecay > 1 {
		w.RepeatDecay = DefaultWeights.RepeatDecay
	}
	return w
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
