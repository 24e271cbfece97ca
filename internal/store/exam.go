package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/scangrader/internal/model"
)

// CreateExam stores a new exam.
func (s *Store) CreateExam(ctx context.Context, name string) (int64, error) {
	return s.insertID(ctx, s.db, `INSERT INTO exams (name, created_at) VALUES (?, ?)`, name, time.Now().UTC())
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(ctx context.Context, id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, created_at FROM exams WHERE id = ?`), id).
		Scan(&e.ID, &e.Name, &e.CreatedAt)
	return e, notFound(err, "exam", id)
}

// GetExamByName returns the exam with the given name.
func (s *Store) GetExamByName(ctx context.Context, name string) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, created_at FROM exams WHERE name = ?`), name).
		Scan(&e.ID, &e.Name, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("exam %q: %w", name, ErrNotFound)
	}
	return e, err
}

// EnsureExam returns the ID of the named exam, creating it if needed.
func (s *Store) EnsureExam(ctx context.Context, name string) (int64, error) {
	e, err := s.GetExamByName(ctx, name)
	if err == nil {
		return e.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	return s.CreateExam(ctx, name)
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return s.insertQuestion(ctx, s.db, q)
}

func (s *Store) insertQuestion(ctx context.Context, db queryer, q model.Question) (int64, error) {
	return s.insertID(ctx, db,
		`INSERT INTO questions (exam_id, part, question_number, content, max_points, solution, grading_criteria)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ExamID, q.Part, q.Number, q.Content, q.MaxPoints, q.Solution, q.GradingCriteria,
	)
}

// ReplaceQuestions swaps the exam's question set for qs in one transaction.
// Questions that already have answers cannot be removed.
func (s *Store) ReplaceQuestions(ctx context.Context, examID int64, qs []model.QuestionImport) (int, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM questions WHERE exam_id = ?`), examID); err != nil {
			return fmt.Errorf("delete questions: %w", err)
		}
		for _, qi := range qs {
			q := model.Question{
				ExamID:          examID,
				Part:            qi.Part,
				Number:          qi.Number,
				Content:         qi.Content,
				MaxPoints:       qi.MaxPoints,
				Solution:        qi.Solution,
				GradingCriteria: qi.GradingCriteria,
			}
			if _, err := s.insertQuestion(ctx, tx, q); err != nil {
				return fmt.Errorf("insert question %d: %w", qi.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(qs), nil
}

// ListQuestions returns the exam's questions ordered by part and number.
func (s *Store) ListQuestions(ctx context.Context, examID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, exam_id, part, question_number, content, max_points, solution, grading_criteria
		 FROM questions WHERE exam_id = ? ORDER BY part, question_number, id`), examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Part, &q.Number, &q.Content, &q.MaxPoints, &q.Solution, &q.GradingCriteria); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
