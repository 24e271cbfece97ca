package grading

import (
	"math"

	"github.com/pavelanni/scangrader/internal/model"
)

// WeightedTotal returns the point-weighted percentage over all scores,
// rounded to the nearest integer. It is 0 when the total weight is not positive.
func WeightedTotal(scores []model.WeightedScore) int {
	var earned, possible float64
	for _, s := range scores {
		earned += s.MaxPoints * s.ScorePercent / 100
		possible += s.MaxPoints
	}
	if possible <= 0 {
		return 0
	}
	return int(math.Round(earned / possible * 100))
}
