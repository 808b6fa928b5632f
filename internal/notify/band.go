package notify

// Band is a presentation label for a confidence score.
type Band string

const (
	BandLow    Band = "LOW"
	BandMedium Band = "MEDIUM"
	BandHigh   Band = "HIGH"
)

// Bands holds the lower bound of the medium and high bands.
type Bands struct {
	Medium float64
	High   float64
}

// DefaultBands: low < 0.45 <= medium < 0.70 <= high.
var DefaultBands = Bands{Medium: 0.45, High: 0.70}

// Of returns the band for a score. Invalid bounds fall back to defaults.
func (b Bands) Of(score float64) Band {
	if b.Medium <= 0 || b.High <= 0 || b.Medium > b.High {
		b = DefaultBands
	}
	switch {
	case score >= b.High:
		return BandHigh
	case score >= b.Medium:
		return BandMedium
	}
	return BandLow
}

// BandOf returns the band for a score under DefaultBands.
func BandOf(score float64) Band {
	return DefaultBands.Of(score)
}
