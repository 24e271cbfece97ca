package grading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/signintech/gopdf"

	"github.com/pavelanni/scangrader/internal/blob"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/pdfpages"
	"github.com/pavelanni/scangrader/internal/store"
)

const testScanRef = "scans/1/exam.pdf"

// makePDF builds an n-page document with a distinct drawing on every page.
func makePDF(t *testing.T, n int) []byte {
	t.Helper()
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	for i := 0; i < n; i++ {
		pdf.AddPage()
		pdf.Line(20, 20, 40+float64(i)*20, 200)
	}
	return pdf.GetBytesPdf()
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	downloads int
}

func (f *fakeBlobs) Download(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, blob.ErrNotFound)
	}
	return data, nil
}

// fakeOCR transcribes page n as "side n" and fails for submissions whose
// first page is in failFirst.
type fakeOCR struct {
	mu        sync.Mutex
	calls     [][]int
	failFirst map[int]bool
}

func (f *fakeOCR) TranscribePages(_ context.Context, pages []pdfpages.Page) ([]model.OCRResult, error) {
	f.mu.Lock()
	nums := make([]int, len(pages))
	for i, p := range pages {
		nums[i] = p.Number
	}
	f.calls = append(f.calls, nums)
	fail := len(pages) > 0 && f.failFirst[pages[0].Number]
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("page %d: OCR provider error: connection reset", pages[0].Number)
	}
	results := make([]model.OCRResult, len(pages))
	for i, p := range pages {
		if len(p.Data) == 0 {
			return nil, fmt.Errorf("page %d has no data", p.Number)
		}
		results[i] = model.OCRResult{PageNumber: p.Number, Text: fmt.Sprintf("side %d", p.Number), Confidence: model.ConfidenceHigh}
	}
	return results, nil
}

func (f *fakeOCR) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeScorer scores by question number; fn overrides the table when set.
type fakeScorer struct {
	mu       sync.Mutex
	byNumber map[int]float64
	fn       func(q model.Question, text string) (model.ScoreResult, error)
	texts    []string
}

func (f *fakeScorer) Score(_ context.Context, q model.Question, text string) (model.ScoreResult, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(q, text)
	}
	return model.ScoreResult{
		ScorePercent:    f.byNumber[q.Number],
		ConfidenceScore: 90,
		Feedback:        fmt.Sprintf("oppgave %d", q.Number),
	}, nil
}

// brokenSaveStore corrupts the graded answers of the listed submissions so
// the real transactional save fails part way through.
type brokenSaveStore struct {
	*store.Store
	fail map[int64]bool
}

func (b *brokenSaveStore) SaveGradedSubmission(ctx context.Context, id int64, g model.GradedSubmission) error {
	if b.fail[id] {
		g.Answers = append(g.Answers, model.Answer{QuestionID: 9999, StudentAnswerText: "x"})
	}
	return b.Store.SaveGradedSubmission(ctx, id, g)
}

type fixture struct {
	store  *store.Store
	examID int64
	blobs  *fakeBlobs
	ocr    *fakeOCR
	scorer *fakeScorer
}

// newFixture creates an exam with one question per maxPoints entry and a
// scan of the given page count.
func newFixture(t *testing.T, pages int, maxPoints ...float64) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	examID, err := s.CreateExam(ctx, "R1")
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	for i, mp := range maxPoints {
		_, err := s.InsertQuestion(ctx, model.Question{
			ExamID:    examID,
			Part:      1,
			Number:    i + 1,
			Content:   fmt.Sprintf("oppgave %d", i+1),
			MaxPoints: mp,
		})
		if err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
	}

	return &fixture{
		store:  s,
		examID: examID,
		blobs:  &fakeBlobs{objects: map[string][]byte{testScanRef: makePDF(t, pages)}},
		ocr:    &fakeOCR{failFirst: map[int]bool{}},
		scorer: &fakeScorer{byNumber: map[int]float64{}},
	}
}

// register creates submissions for "student:start-end" ranges on ref.
func (f *fixture) register(t *testing.T, ref string, ranges ...string) []int64 {
	t.Helper()
	var mappings []model.PageMapping
	for _, r := range ranges {
		var m model.PageMapping
		student, pages, _ := strings.Cut(r, ":")
		if _, err := fmt.Sscanf(pages, "%d-%d", &m.StartPage, &m.EndPage); err != nil {
			t.Fatalf("bad range %q: %v", r, err)
		}
		m.StudentID = student
		mappings = append(mappings, m)
	}
	ids, err := f.store.CreateSubmissions(context.Background(), f.examID, ref, mappings)
	if err != nil {
		t.Fatalf("CreateSubmissions: %v", err)
	}
	return ids
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return NewOrchestrator(f.store, f.blobs, f.ocr, f.scorer, opts...)
}

func (f *fixture) submission(t *testing.T, id int64) model.Submission {
	t.Helper()
	sub, err := f.store.GetSubmission(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	return sub
}

func (f *fixture) answers(t *testing.T, id int64) []model.Answer {
	t.Helper()
	answers, err := f.store.ListAnswers(context.Background(), id)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	return answers
}
