package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/scangrader/internal/model"
)

const answerColumns = `a.id, a.submission_id, a.question_id, a.student_answer_text, a.score_percent,
	a.confidence_score, a.error_analysis, a.llm_feedback, a.teacher_override`

func scanAnswer(row interface{ Scan(...any) error }) (model.Answer, error) {
	var (
		a  model.Answer
		ea string
	)
	if err := row.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.StudentAnswerText, &a.ScorePercent,
		&a.ConfidenceScore, &ea, &a.LLMFeedback, &a.TeacherOverride); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(ea), &a.ErrorAnalysis); err != nil {
		return a, fmt.Errorf("decode error analysis of answer %d: %w", a.ID, err)
	}
	return a, nil
}

func (s *Store) upsertAnswer(ctx context.Context, q queryer, a model.Answer) error {
	ea, err := json.Marshal(a.ErrorAnalysis)
	if err != nil {
		return fmt.Errorf("encode error analysis: %w", err)
	}
	_, err = q.ExecContext(ctx, s.rebind(
		`INSERT INTO answers (submission_id, question_id, student_answer_text, score_percent,
		 confidence_score, error_analysis, llm_feedback, teacher_override)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (submission_id, question_id) DO UPDATE SET
		 student_answer_text = excluded.student_answer_text,
		 score_percent = excluded.score_percent,
		 confidence_score = excluded.confidence_score,
		 error_analysis = excluded.error_analysis,
		 llm_feedback = excluded.llm_feedback,
		 teacher_override = excluded.teacher_override`),
		a.SubmissionID, a.QuestionID, a.StudentAnswerText, a.ScorePercent,
		a.ConfidenceScore, string(ea), a.LLMFeedback, a.TeacherOverride,
	)
	if err != nil {
		return fmt.Errorf("insert answer for question %d: %w", a.QuestionID, err)
	}
	return nil
}

// InsertAnswers stores answers, replacing any existing answer for the same
// submission and question.
func (s *Store) InsertAnswers(ctx context.Context, answers []model.Answer) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range answers {
			if err := s.upsertAnswer(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAnswer returns an answer by ID.
func (s *Store) GetAnswer(ctx context.Context, id int64) (model.Answer, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+answerColumns+` FROM answers a WHERE a.id = ?`), id)
	a, err := scanAnswer(row)
	return a, notFound(err, "answer", id)
}

// ListAnswers returns a submission's answers in question order.
func (s *Store) ListAnswers(ctx context.Context, submissionID int64) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+answerColumns+` FROM answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.submission_id = ? ORDER BY q.part, q.question_number, q.id`), submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// UpdateAnswerScore records a teacher score for an answer.
func (s *Store) UpdateAnswerScore(ctx context.Context, id int64, percent float64) error {
	return s.updateAnswerScore(ctx, s.db, id, percent)
}

func (s *Store) updateAnswerScore(ctx context.Context, q queryer, id int64, percent float64) error {
	res, err := q.ExecContext(ctx, s.rebind(`UPDATE answers SET score_percent = ?, teacher_override = ? WHERE id = ?`),
		percent, true, id)
	if err != nil {
		return fmt.Errorf("update answer %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("answer %d: %w", id, ErrNotFound)
	}
	return nil
}

// OverrideAnswer sets a teacher score on an answer, recomputes the owning
// submission's total with total over all of its answers and persists it.
// The whole read-modify-write runs in one transaction.
func (s *Store) OverrideAnswer(ctx context.Context, answerID int64, percent float64,
	total func([]model.WeightedScore) int) (submissionID int64, newTotal int, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT submission_id FROM answers WHERE id = ?`), answerID).Scan(&submissionID)
		if err != nil {
			return notFound(err, "answer", answerID)
		}
		if err := s.updateAnswerScore(ctx, tx, answerID, percent); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, s.rebind(
			`SELECT q.max_points, a.score_percent FROM answers a
			 JOIN questions q ON q.id = a.question_id
			 WHERE a.submission_id = ? ORDER BY a.id`), submissionID)
		if err != nil {
			return fmt.Errorf("load scores: %w", err)
		}
		var scores []model.WeightedScore
		for rows.Next() {
			var ws model.WeightedScore
			if err := rows.Scan(&ws.MaxPoints, &ws.ScorePercent); err != nil {
				rows.Close()
				return err
			}
			scores = append(scores, ws)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		newTotal = total(scores)
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE submissions SET total_score_percent = ? WHERE id = ?`),
			float64(newTotal), submissionID)
		if err != nil {
			return fmt.Errorf("update submission %d total: %w", submissionID, err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return submissionID, newTotal, nil
}
