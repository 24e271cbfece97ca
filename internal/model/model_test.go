package model

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SubmissionStatus
		want     bool
	}{
		{StatusScanned, StatusGrading, true},
		{StatusGrading, StatusGraded, true},
		{StatusGrading, StatusScanned, true},
		{StatusGraded, StatusReviewed, true},
		{StatusScanned, StatusGraded, false},
		{StatusScanned, StatusReviewed, false},
		{StatusGraded, StatusGrading, false},
		{StatusReviewed, StatusScanned, false},
		{SubmissionStatus("bogus"), StatusGrading, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
			err := ValidateTransition(tt.from, tt.to)
			if tt.want && err != nil {
				t.Errorf("ValidateTransition: unexpected error %v", err)
			}
			if !tt.want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition: expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []SubmissionStatus{StatusScanned, StatusGrading, StatusGraded, StatusReviewed} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if SubmissionStatus("pending").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestParseConfidence(t *testing.T) {
	if c, ok := ParseConfidence("high"); !ok || c != ConfidenceHigh {
		t.Errorf("ParseConfidence(high) = %q, %v", c, ok)
	}
	if _, ok := ParseConfidence("certain"); ok {
		t.Error("expected unknown confidence to be rejected")
	}
}

func TestWorstConfidence(t *testing.T) {
	tests := []struct {
		name    string
		results []OCRResult
		want    Confidence
	}{
		{"empty", nil, ConfidenceHigh},
		{"all high", []OCRResult{{Confidence: ConfidenceHigh}, {Confidence: ConfidenceHigh}}, ConfidenceHigh},
		{"one medium", []OCRResult{{Confidence: ConfidenceHigh}, {Confidence: ConfidenceMedium}}, ConfidenceMedium},
		{"low wins", []OCRResult{{Confidence: ConfidenceMedium}, {Confidence: ConfidenceLow}, {Confidence: ConfidenceHigh}}, ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorstConfidence(tt.results); got != tt.want {
				t.Errorf("WorstConfidence = %q, want %q", got, tt.want)
			}
		})
	}
}
