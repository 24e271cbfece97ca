package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID     int64           `json:"exam_id"`
	Name       string          `json:"name"`
	ExportedAt time.Time       `json:"exported_at"`
	Questions  []Question      `json:"questions"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's graded submission for export.
type StudentResult struct {
	SubmissionID      int64            `json:"submission_id"`
	StudentID         string           `json:"student_id"`
	StartPage         int              `json:"start_page"`
	EndPage           int              `json:"end_page"`
	Status            SubmissionStatus `json:"status"`
	TotalScorePercent *float64         `json:"total_score_percent,omitempty"`
	OCRConfidence     Confidence       `json:"ocr_confidence,omitempty"`
	GradedAt          *time.Time       `json:"graded_at,omitempty"`
	Answers           []Answer         `json:"answers"`
}
