package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/scangrader/internal/model"
)

// ExportExam builds the export document for one exam: its questions and
// every submission with its answers.
func (s *Store) ExportExam(ctx context.Context, examID int64) (model.ExamExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.ExamExport{}, err
	}
	questions, err := s.ListQuestions(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list questions: %w", err)
	}
	subs, err := s.ListSubmissions(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list submissions: %w", err)
	}

	results := make([]model.StudentResult, 0, len(subs))
	for _, sub := range subs {
		answers, err := s.ListAnswers(ctx, sub.ID)
		if err != nil {
			return model.ExamExport{}, fmt.Errorf("list answers of submission %d: %w", sub.ID, err)
		}
		if answers == nil {
			answers = []model.Answer{}
		}
		results = append(results, model.StudentResult{
			SubmissionID:      sub.ID,
			StudentID:         sub.StudentID,
			StartPage:         sub.StartPage,
			EndPage:           sub.EndPage,
			Status:            sub.Status,
			TotalScorePercent: sub.TotalScorePercent,
			OCRConfidence:     sub.OCRConfidence,
			GradedAt:          sub.GradedAt,
			Answers:           answers,
		})
	}

	if questions == nil {
		questions = []model.Question{}
	}
	return model.ExamExport{
		ExamID:     exam.ID,
		Name:       exam.Name,
		ExportedAt: time.Now().UTC(),
		Questions:  questions,
		Results:    results,
	}, nil
}
