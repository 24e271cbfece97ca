package grading

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavelanni/scangrader/internal/model"
)

// OverrideStore applies a score change and total recomputation atomically.
type OverrideStore interface {
	OverrideAnswer(ctx context.Context, answerID int64, percent float64,
		total func([]model.WeightedScore) int) (submissionID int64, newTotal int, err error)
}

// OverrideService lets a teacher replace the score of one answer.
type OverrideService struct {
	store  OverrideStore
	logger *slog.Logger
}

func NewOverrideService(store OverrideStore, logger *slog.Logger) *OverrideService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverrideService{store: store, logger: logger}
}

// OverrideAnswer sets the answer's score, marks it as a teacher override and
// returns the submission's recomputed total. Submission status is unchanged.
func (s *OverrideService) OverrideAnswer(ctx context.Context, answerID int64, percent float64) (int, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidScore, percent)
	}
	subID, total, err := s.store.OverrideAnswer(ctx, answerID, percent, WeightedTotal)
	if err != nil {
		return 0, fmt.Errorf("override answer %d: %w", answerID, err)
	}
	s.logger.Info("answer overridden", "answer_id", answerID, "submission_id", subID,
		"score_percent", percent, "total_score_percent", total)
	return total, nil
}
