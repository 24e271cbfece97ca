// Package grading runs a batch of scanned submissions through page
// extraction, transcription and scoring, and applies teacher overrides.
package grading

import "errors"

var (
	// ErrNoQuestionsFound is returned when the exam has no questions to grade against.
	ErrNoQuestionsFound = errors.New("no questions found for exam")
	// ErrNoEligibleSubmissions is returned when no submission is in status scanned.
	ErrNoEligibleSubmissions = errors.New("no submissions ready for grading")
	// ErrScanDownload is returned when the shared scan cannot be fetched or read.
	ErrScanDownload = errors.New("scan download failed")
	// ErrInvalidScore is returned for override scores outside [0, 100].
	ErrInvalidScore = errors.New("score must be between 0 and 100")
	// ErrOverlappingRanges is returned when two page mappings share a page.
	ErrOverlappingRanges = errors.New("page ranges overlap")
	// ErrInvalidMapping is returned for malformed page mappings.
	ErrInvalidMapping = errors.New("invalid page mapping")
)
