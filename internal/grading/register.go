package grading

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/scangrader/internal/blob"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/pdfpages"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegistrationStore is the persistence needed to register submissions.
type RegistrationStore interface {
	GetExam(ctx context.Context, id int64) (model.Exam, error)
	RegisterSubmissions(ctx context.Context, examID int64, scanRef string, mappings []model.PageMapping,
		check func(existing []model.Submission) error) ([]int64, error)
}

// Registrar uploads scans and turns page mappings into scanned submissions.
type Registrar struct {
	store RegistrationStore
	blobs blob.Storage
}

func NewRegistrar(store RegistrationStore, blobs blob.Storage) *Registrar {
	return &Registrar{store: store, blobs: blobs}
}

// UploadScan stores a scanned PDF for the exam and returns its reference
// and page count.
func (r *Registrar) UploadScan(ctx context.Context, examID int64, data []byte) (string, int, error) {
	if _, err := r.store.GetExam(ctx, examID); err != nil {
		return "", 0, err
	}
	pages, err := pdfpages.PageCount(data)
	if err != nil {
		return "", 0, err
	}
	ref := fmt.Sprintf("scans/%d/%s.pdf", examID, uuid.NewString())
	if err := r.blobs.Upload(ctx, ref, data, pdfpages.MIMEType); err != nil {
		return "", 0, fmt.Errorf("upload scan: %w", err)
	}
	return ref, pages, nil
}

// Register validates mappings against the scan at scanRef and creates one
// scanned submission per mapping. Either all are created or none. Mappings
// may not overlap, or repeat a student of, submissions already registered
// on the same scan.
func (r *Registrar) Register(ctx context.Context, examID int64, scanRef string, mappings []model.PageMapping) ([]int64, error) {
	if scanRef == "" {
		return nil, fmt.Errorf("%w: scan reference is required", ErrInvalidMapping)
	}
	if err := ValidateMappings(mappings); err != nil {
		return nil, err
	}
	if _, err := r.store.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	scan, err := r.blobs.Download(ctx, scanRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrScanDownload, scanRef, err)
	}
	total, err := pdfpages.PageCount(scan)
	if err != nil {
		return nil, err
	}
	if err := CheckRanges(mappings, total); err != nil {
		return nil, err
	}
	return r.store.RegisterSubmissions(ctx, examID, scanRef, mappings, func(existing []model.Submission) error {
		return CheckConflicts(existing, mappings)
	})
}

// ValidateMappings checks that there is at least one mapping and that each
// has a student and a well-formed page range.
func ValidateMappings(mappings []model.PageMapping) error {
	if len(mappings) == 0 {
		return fmt.Errorf("%w: at least one mapping is required", ErrInvalidMapping)
	}
	for i, m := range mappings {
		if err := validate.Struct(m); err != nil {
			return fmt.Errorf("%w: mapping %d: %w", ErrInvalidMapping, i, err)
		}
	}
	return nil
}

// CheckRanges validates every mapping against a document of total pages and
// rejects ranges that share a page.
func CheckRanges(mappings []model.PageMapping, total int) error {
	for _, m := range mappings {
		if err := pdfpages.ValidateRange(m.StartPage, m.EndPage, total); err != nil {
			return fmt.Errorf("student %s: %w", m.StudentID, err)
		}
	}
	sorted := make([]model.PageMapping, len(mappings))
	copy(sorted, mappings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartPage < sorted[j].StartPage })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.StartPage <= prev.EndPage {
			return fmt.Errorf("%w: %s (%d-%d) and %s (%d-%d)", ErrOverlappingRanges,
				prev.StudentID, prev.StartPage, prev.EndPage, cur.StudentID, cur.StartPage, cur.EndPage)
		}
	}
	return nil
}

// CheckConflicts rejects mappings that share pages with, or repeat the
// student of, a submission already registered on the same scan.
func CheckConflicts(existing []model.Submission, mappings []model.PageMapping) error {
	students := make(map[string]bool, len(existing)+len(mappings))
	for _, sub := range existing {
		students[sub.StudentID] = true
	}
	for _, m := range mappings {
		if students[m.StudentID] {
			return fmt.Errorf("%w: student %s is already registered on this scan", ErrInvalidMapping, m.StudentID)
		}
		students[m.StudentID] = true
	}

	for _, m := range mappings {
		for _, sub := range existing {
			if m.StartPage <= sub.EndPage && sub.StartPage <= m.EndPage {
				return fmt.Errorf("%w: %s (%d-%d) and registered %s (%d-%d)", ErrOverlappingRanges,
					m.StudentID, m.StartPage, m.EndPage, sub.StudentID, sub.StartPage, sub.EndPage)
			}
		}
	}
	return nil
}
