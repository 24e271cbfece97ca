package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/scangrader/internal/model"
)

const submissionColumns = `id, exam_id, student_id, scan_ref, start_page, end_page, status,
	total_score_percent, ocr_confidence, last_error, graded_at`

func scanSubmission(row interface{ Scan(...any) error }) (model.Submission, error) {
	var sub model.Submission
	err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &sub.ScanRef, &sub.StartPage, &sub.EndPage,
		&sub.Status, &sub.TotalScorePercent, &sub.OCRConfidence, &sub.LastError, &sub.GradedAt)
	return sub, err
}

// CreateSubmissions inserts one scanned submission per mapping in a single
// transaction and returns the new IDs in mapping order.
func (s *Store) CreateSubmissions(ctx context.Context, examID int64, scanRef string, mappings []model.PageMapping) ([]int64, error) {
	return s.RegisterSubmissions(ctx, examID, scanRef, mappings, nil)
}

// RegisterSubmissions is CreateSubmissions with a guard. Inside the
// transaction, and with the exam row locked on PostgreSQL, check receives
// the submissions already registered on scanRef; a non-nil error aborts
// the insert and is returned as is.
func (s *Store) RegisterSubmissions(ctx context.Context, examID int64, scanRef string, mappings []model.PageMapping,
	check func(existing []model.Submission) error) ([]int64, error) {
	ids := make([]int64, 0, len(mappings))
	now := time.Now().UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if check != nil {
			lock := `SELECT id FROM exams WHERE id = ?`
			if s.dialect == DialectPostgres {
				lock += ` FOR UPDATE`
			}
			var id int64
			if err := tx.QueryRowContext(ctx, s.rebind(lock), examID).Scan(&id); err != nil {
				return notFound(err, "exam", examID)
			}
			existing, err := s.listSubmissionsQ(ctx, tx,
				`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = ? AND scan_ref = ? ORDER BY id`,
				examID, scanRef)
			if err != nil {
				return fmt.Errorf("list submissions on %s: %w", scanRef, err)
			}
			if err := check(existing); err != nil {
				return err
			}
		}
		for _, m := range mappings {
			id, err := s.insertID(ctx, tx,
				`INSERT INTO submissions (exam_id, student_id, scan_ref, start_page, end_page, status, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				examID, m.StudentID, scanRef, m.StartPage, m.EndPage, model.StatusScanned, now,
			)
			if err != nil {
				return fmt.Errorf("insert submission for %s: %w", m.StudentID, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(ctx context.Context, id int64) (model.Submission, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`), id)
	sub, err := scanSubmission(row)
	return sub, notFound(err, "submission", id)
}

// ListSubmissions returns every submission of an exam in ID order.
func (s *Store) ListSubmissions(ctx context.Context, examID int64) ([]model.Submission, error) {
	return s.listSubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE exam_id = ? ORDER BY id`, examID)
}

// ListSubmissionsByStatus returns the exam's submissions in the given status, in ID order.
func (s *Store) ListSubmissionsByStatus(ctx context.Context, examID int64, status model.SubmissionStatus) ([]model.Submission, error) {
	return s.listSubmissions(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = ? AND status = ? ORDER BY id`, examID, status)
}

func (s *Store) listSubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	return s.listSubmissionsQ(ctx, s.db, query, args...)
}

func (s *Store) listSubmissionsQ(ctx context.Context, q queryer, query string, args ...any) ([]model.Submission, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubmissionStatus moves a submission to status after checking the
// transition against its current status.
func (s *Store) UpdateSubmissionStatus(ctx context.Context, id int64, status model.SubmissionStatus) error {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	return s.TransitionSubmission(ctx, id, sub.Status, status)
}

// TransitionSubmission changes the status from → to only if the row is still
// in from. It returns ErrStaleStatus when another writer got there first.
func (s *Store) TransitionSubmission(ctx context.Context, id int64, from, to model.SubmissionStatus) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE submissions SET status = ? WHERE id = ? AND status = ?`), to, id, from)
	if err != nil {
		return fmt.Errorf("update submission %d status: %w", id, err)
	}
	return s.checkTransitioned(ctx, s.db, res, id)
}

// RevertSubmission returns a submission from grading to scanned and records
// why grading failed.
func (s *Store) RevertSubmission(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE submissions SET status = ?, last_error = ? WHERE id = ? AND status = ?`),
		model.StatusScanned, reason, id, model.StatusGrading)
	if err != nil {
		return fmt.Errorf("revert submission %d: %w", id, err)
	}
	return s.checkTransitioned(ctx, s.db, res, id)
}

// UpdateSubmissionTotal sets the aggregated score.
func (s *Store) UpdateSubmissionTotal(ctx context.Context, id int64, total int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE submissions SET total_score_percent = ? WHERE id = ?`), float64(total), id)
	if err != nil {
		return fmt.Errorf("update submission %d total: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveGradedSubmission replaces the submission's answers and marks it graded
// with its total and OCR confidence. All of it commits or none of it does.
func (s *Store) SaveGradedSubmission(ctx context.Context, id int64, g model.GradedSubmission) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE submissions
			 SET status = ?, total_score_percent = ?, ocr_confidence = ?, graded_at = ?, last_error = ''
			 WHERE id = ? AND status = ?`),
			model.StatusGraded, float64(g.TotalScorePercent), g.OCRConfidence, time.Now().UTC(), id, model.StatusGrading)
		if err != nil {
			return fmt.Errorf("mark submission %d graded: %w", id, err)
		}
		if err := s.checkTransitioned(ctx, tx, res, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM answers WHERE submission_id = ?`), id); err != nil {
			return fmt.Errorf("clear answers: %w", err)
		}
		for _, a := range g.Answers {
			a.SubmissionID = id
			if err := s.upsertAnswer(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkTransitioned distinguishes a missing row from a stale status when a
// conditional update touched nothing.
func (s *Store) checkTransitioned(ctx context.Context, q queryer, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM submissions WHERE id = ?`), id).Scan(&exists)
	if err != nil {
		return notFound(err, "submission", id)
	}
	return fmt.Errorf("submission %d: %w", id, ErrStaleStatus)
}
