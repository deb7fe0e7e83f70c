// Package scoring folds weighted factors into a single 0-100 score and maps
// that score onto a circle with a confidence and ranked alternatives.
package scoring

import (
	"math"

	"github.com/circle-kernel/internal/circles"
)

// WeightedScore returns Σ(value·weight) / Σ(weight), clamped to [0, 100].
// An empty or zero-weight factor set scores 0.
func WeightedScore(factors []circles.SuggestionFactor) float64 {
	var sum, total float64
	for _, f := range factors {
		if f.Weight <= 0 {
			continue
		}
		sum += float64(f.Value) * f.Weight
		total += f.Weight
	}
	if total == 0 {
		return 0
	}
	return clamp(sum/total, 0, 100)
}

// Round rounds a score to two decimals for display and storage.
func Round(score float64) float64 {
	return math.Round(score*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
