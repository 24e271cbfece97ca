package model

import (
	"errors"
	"fmt"
	"time"
)

// SubmissionStatus represents where a submission is in the grading lifecycle.
type SubmissionStatus string

const (
	StatusScanned  SubmissionStatus = "scanned"
	StatusGrading  SubmissionStatus = "grading"
	StatusGraded   SubmissionStatus = "graded"
	StatusReviewed SubmissionStatus = "reviewed"
)

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every allowed status change. graded → reviewed belongs
// to the teacher review workflow and is never performed by the grader.
var transitions = map[SubmissionStatus][]SubmissionStatus{
	StatusScanned:  {StatusGrading},
	StatusGrading:  {StatusGraded, StatusScanned},
	StatusGraded:   {StatusReviewed},
	StatusReviewed: nil,
}

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From SubmissionStatus
	To   SubmissionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s → %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidateTransition returns a *TransitionError when from → to is not allowed.
func ValidateTransition(from, to SubmissionStatus) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Confidence is the OCR transcription quality signal.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// ParseConfidence returns the confidence named by s, or false if s is unknown.
func ParseConfidence(s string) (Confidence, bool) {
	c := Confidence(s)
	_, ok := confidenceRank[c]
	return c, ok
}

// WorstConfidence returns the lowest confidence among results,
// or ConfidenceHigh when results is empty.
func WorstConfidence(results []OCRResult) Confidence {
	worst := ConfidenceHigh
	for _, r := range results {
		c := r.Confidence
		if _, ok := confidenceRank[c]; !ok {
			c = ConfidenceMedium
		}
		if confidenceRank[c] < confidenceRank[worst] {
			worst = c
		}
	}
	return worst
}

// Exam groups questions and the submissions graded against them.
type Exam struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Question represents one exam task with its rubric.
type Question struct {
	ID              int64   `json:"id"`
	ExamID          int64   `json:"exam_id"`
	Part            int     `json:"part"` // 1 = no aids, 2 = aids allowed
	Number          int     `json:"question_number"`
	Content         string  `json:"content"`
	MaxPoints       float64 `json:"max_points"`
	Solution        string  `json:"solution"`
	GradingCriteria string  `json:"grading_criteria"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Part            int     `json:"part" validate:"oneof=1 2"`
	Number          int     `json:"question_number" validate:"min=1"`
	Content         string  `json:"content" validate:"required"`
	MaxPoints       float64 `json:"max_points" validate:"gt=0"`
	Solution        string  `json:"solution"`
	GradingCriteria string  `json:"grading_criteria"`
}

// Submission is one student's exam, identified by a page range in a shared scan.
type Submission struct {
	ID                int64            `json:"id"`
	ExamID            int64            `json:"exam_id"`
	StudentID         string           `json:"student_id"`
	ScanRef           string           `json:"scan_ref"`
	StartPage         int              `json:"start_page"`
	EndPage           int              `json:"end_page"`
	Status            SubmissionStatus `json:"status"`
	TotalScorePercent *float64         `json:"total_score_percent,omitempty"`
	OCRConfidence     Confidence       `json:"ocr_confidence,omitempty"`
	LastError         string           `json:"last_error,omitempty"`
	GradedAt          *time.Time       `json:"graded_at,omitempty"`
}

// ErrorAnalysis is the four-category mistake taxonomy attached to an answer.
type ErrorAnalysis struct {
	SignError        bool   `json:"fortegnsfeil"`
	ConceptError     bool   `json:"konseptfeil"`
	ComputationError bool   `json:"regnefeil"`
	MissingStep      bool   `json:"manglende_steg"`
	Details          string `json:"details"`
}

// Answer is one scored question for one submission.
type Answer struct {
	ID                int64         `json:"id"`
	SubmissionID      int64         `json:"submission_id"`
	QuestionID        int64         `json:"question_id"`
	StudentAnswerText string        `json:"student_answer_text"`
	ScorePercent      float64       `json:"score_percent"`
	ConfidenceScore   float64       `json:"confidence_score"`
	ErrorAnalysis     ErrorAnalysis `json:"error_analysis"`
	LLMFeedback       string        `json:"llm_feedback"`
	TeacherOverride   bool          `json:"teacher_override"`
}

// OCRResult is the transcription of a single page.
type OCRResult struct {
	PageNumber int        `json:"page_number"`
	Text       string     `json:"text"`
	Confidence Confidence `json:"confidence"`
}

// ScoreResult is the validated output of the answer scorer.
type ScoreResult struct {
	ScorePercent    float64       `json:"score_percent"`
	ConfidenceScore float64       `json:"confidence"`
	ErrorAnalysis   ErrorAnalysis `json:"error_analysis"`
	Feedback        string        `json:"feedback"`
}

// WeightedScore pairs a question weight with the percentage earned on it.
type WeightedScore struct {
	MaxPoints    float64
	ScorePercent float64
}

// GradedSubmission is everything persisted when a submission finishes grading.
type GradedSubmission struct {
	Answers           []Answer
	TotalScorePercent int
	OCRConfidence     Confidence
}

// PageMapping assigns a page range of a scan to a student.
type PageMapping struct {
	StudentID string `json:"studentId" validate:"required"`
	StartPage int    `json:"startPage" validate:"min=1"`
	EndPage   int    `json:"endPage" validate:"min=1,gtefield=StartPage"`
}

// Outcome is the per-submission result of a grading run.
type Outcome string

const (
	OutcomeGraded Outcome = "graded"
	OutcomeError  Outcome = "error"
)

// SubmissionResult reports how one submission fared in a batch.
type SubmissionResult struct {
	SubmissionID int64   `json:"submission_id"`
	StudentID    string  `json:"student_id"`
	Outcome      Outcome `json:"outcome"`
	Error        string  `json:"error,omitempty"`
}

// BatchResult is returned by a grading run.
type BatchResult struct {
	RunID       string             `json:"run_id"`
	ExamID      int64              `json:"exam_id"`
	Results     []SubmissionResult `json:"results"`
	GradedCount int                `json:"graded_count"`
	ErrorCount  int                `json:"error_count"`
	Summary     string             `json:"summary"`
}
