package match

import (
	"math"

	"github.com/invigil-ai/invigil/internal/gallery"
	"github.com/invigil-ai/invigil/internal/signal"
)

// DefaultThreshold is the recognition distance gate. A probe matches only
// when its best gallery distance is strictly below this value.
const DefaultThreshold = 0.6

// Result is the outcome of comparing one probe against the gallery.
type Result struct {
	Matched    bool
	Identity   string
	Distance   float64
	Confidence float64 // (1 - distance) * 100, clamped to [0, 100]
}

// NoMatch is the zero result returned for an empty gallery or a probe
// beyond the threshold.
var NoMatch = Result{}

// Distance returns the Euclidean distance between two descriptors.
func Distance(a, b signal.Descriptor) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match compares the probe against every gallery entry and accepts the
// minimum-distance identity iff that distance is strictly below threshold.
// Ties at the minimum go to the first-inserted entry. The function is pure
// over the snapshot: identical inputs always yield identical results.
func Match(probe signal.Descriptor, snap *gallery.Snapshot, threshold float64) Result {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	entries := snap.Entries()
	if len(entries) == 0 {
		return NoMatch
	}

	best := entries[0]
	bestDist := Distance(probe, best.Descriptor)
	for _, e := range entries[1:] {
		// Strict < keeps the first-inserted entry on ties.
		if d := Distance(probe, e.Descriptor); d < bestDist {
			best = e
			bestDist = d
		}
	}

	if bestDist >= threshold {
		return NoMatch
	}

	return Result{
		Matched:    true,
		Identity:   best.Identity,
		Distance:   bestDist,
		Confidence: confidence(bestDist),
	}
}

func confidence(distance float64) float64 {
	c := (1 - distance) * 100
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
