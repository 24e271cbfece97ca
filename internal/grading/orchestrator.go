package grading

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/pdfpages"
)

// PageSeparator joins the transcriptions of consecutive pages.
const PageSeparator = "\n\n---\n\n"

// Store is the persistence the orchestrator needs.
type Store interface {
	ListQuestions(ctx context.Context, examID int64) ([]model.Question, error)
	ListSubmissionsByStatus(ctx context.Context, examID int64, status model.SubmissionStatus) ([]model.Submission, error)
	TransitionSubmission(ctx context.Context, id int64, from, to model.SubmissionStatus) error
	RevertSubmission(ctx context.Context, id int64, reason string) error
	SaveGradedSubmission(ctx context.Context, id int64, g model.GradedSubmission) error
}

// Blobs fetches scans by reference.
type Blobs interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Transcriber turns single-page PDFs into text, in page order.
type Transcriber interface {
	TranscribePages(ctx context.Context, pages []pdfpages.Page) ([]model.OCRResult, error)
}

// Scorer grades a transcribed answer against one question.
type Scorer interface {
	Score(ctx context.Context, q model.Question, text string) (model.ScoreResult, error)
}

// Orchestrator grades every scanned submission of an exam.
type Orchestrator struct {
	store   Store
	blobs   Blobs
	ocr     Transcriber
	scorer  Scorer
	workers int
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets how many submissions are graded concurrently.
// Values below 1 mean sequential grading.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

// WithMetrics records outcomes and stage durations.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(store Store, blobs Blobs, ocr Transcriber, scorer Scorer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		blobs:   blobs,
		ocr:     ocr,
		scorer:  scorer,
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GradeExam grades all scanned submissions of examID against its questions.
//
// Errors returned directly are batch preconditions: nothing was changed.
// Failures of individual submissions are reported in the result and leave
// the submission back in status scanned with the failure recorded.
func (o *Orchestrator) GradeExam(ctx context.Context, examID int64) (*model.BatchResult, error) {
	begun := time.Now()
	runID := uuid.NewString()
	log := o.logger.With("run_id", runID, "exam_id", examID)

	questions, err := o.store.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("exam %d: %w", examID, ErrNoQuestionsFound)
	}

	subs, err := o.store.ListSubmissionsByStatus(ctx, examID, model.StatusScanned)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("exam %d: %w", examID, ErrNoEligibleSubmissions)
	}

	scanRef := subs[0].ScanRef
	if scanRef == "" {
		return nil, fmt.Errorf("%w: submission %d has no scan reference", ErrScanDownload, subs[0].ID)
	}
	start := time.Now()
	scan, err := o.blobs.Download(ctx, scanRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrScanDownload, scanRef, err)
	}
	o.metrics.since(stageDownload, start)

	doc, err := pdfpages.Open(scan)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrScanDownload, scanRef, err)
	}
	total := doc.PageCount()
	for _, sub := range subs {
		if sub.ScanRef != scanRef {
			continue
		}
		if err := pdfpages.ValidateRange(sub.StartPage, sub.EndPage, total); err != nil {
			return nil, fmt.Errorf("submission %d (%s): %w", sub.ID, sub.StudentID, err)
		}
	}
	warnOverlaps(log, subs)

	log.Info("grading started", "submissions", len(subs), "questions", len(questions), "pages", total, "workers", o.workers)

	results := make([]model.SubmissionResult, len(subs))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, sub := range subs {
		if ctx.Err() != nil {
			results[i] = cancelled(ctx, sub)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = cancelled(ctx, sub)
				return nil
			}
			// A started submission runs to completion so it is never left in grading.
			results[i] = o.gradeSubmission(context.WithoutCancel(ctx), log, doc, scanRef, questions, sub)
			return nil
		})
	}
	_ = g.Wait()

	br := &model.BatchResult{RunID: runID, ExamID: examID, Results: results}
	for _, r := range results {
		if r.Outcome == model.OutcomeGraded {
			br.GradedCount++
		} else {
			br.ErrorCount++
		}
	}
	data := map[string]any{"Graded": br.GradedCount, "Total": len(results), "Failed": br.ErrorCount}
	if br.ErrorCount > 0 {
		br.Summary = i18n.Td(ctx, "BatchSummaryWithErrors", data)
	} else {
		br.Summary = i18n.Td(ctx, "BatchSummary", data)
	}

	log.Info("grading finished", "graded", br.GradedCount, "failed", br.ErrorCount, "duration", time.Since(begun))
	return br, nil
}

func cancelled(ctx context.Context, sub model.Submission) model.SubmissionResult {
	return model.SubmissionResult{
		SubmissionID: sub.ID,
		StudentID:    sub.StudentID,
		Outcome:      model.OutcomeError,
		Error:        i18n.T(ctx, "GradingCancelled"),
	}
}

// gradeSubmission claims sub, grades it and persists the outcome.
func (o *Orchestrator) gradeSubmission(ctx context.Context, log *slog.Logger, doc *pdfpages.Document, scanRef string,
	questions []model.Question, sub model.Submission) model.SubmissionResult {
	log = log.With("submission_id", sub.ID, "student_id", sub.StudentID)
	res := model.SubmissionResult{SubmissionID: sub.ID, StudentID: sub.StudentID}

	if err := o.store.TransitionSubmission(ctx, sub.ID, model.StatusScanned, model.StatusGrading); err != nil {
		log.Warn("could not claim submission", "error", err)
		o.metrics.outcome(string(model.OutcomeError))
		res.Outcome = model.OutcomeError
		res.Error = err.Error()
		return res
	}

	started := time.Now()
	graded, err := o.process(ctx, doc, scanRef, questions, sub)
	if err == nil {
		saveStart := time.Now()
		err = o.store.SaveGradedSubmission(ctx, sub.ID, graded)
		o.metrics.since(stageSave, saveStart)
	}
	if err != nil {
		log.Error("grading submission failed", "error", err)
		if rerr := o.store.RevertSubmission(ctx, sub.ID, err.Error()); rerr != nil {
			log.Error("revert submission failed", "error", rerr)
		}
		o.metrics.outcome(string(model.OutcomeError))
		res.Outcome = model.OutcomeError
		res.Error = err.Error()
		return res
	}

	log.Info("submission graded", "total_score_percent", graded.TotalScorePercent,
		"ocr_confidence", graded.OCRConfidence, "duration", time.Since(started))
	o.metrics.outcome(string(model.OutcomeGraded))
	res.Outcome = model.OutcomeGraded
	return res
}

func (o *Orchestrator) process(ctx context.Context, doc *pdfpages.Document, scanRef string,
	questions []model.Question, sub model.Submission) (model.GradedSubmission, error) {
	if sub.ScanRef != scanRef {
		return model.GradedSubmission{}, fmt.Errorf("%w: submission uses scan %q, batch downloaded %q",
			ErrScanDownload, sub.ScanRef, scanRef)
	}

	start := time.Now()
	pages, err := doc.Extract(sub.StartPage, sub.EndPage)
	if err != nil {
		return model.GradedSubmission{}, fmt.Errorf("extract pages: %w", err)
	}
	o.metrics.since(stageExtract, start)

	start = time.Now()
	ocr, err := o.ocr.TranscribePages(ctx, pages)
	if err != nil {
		return model.GradedSubmission{}, fmt.Errorf("transcribe: %w", err)
	}
	o.metrics.since(stageTranscribe, start)

	texts := make([]string, len(ocr))
	for i, r := range ocr {
		texts[i] = r.Text
	}
	text := strings.Join(texts, PageSeparator)

	answers := make([]model.Answer, 0, len(questions))
	scores := make([]model.WeightedScore, 0, len(questions))
	for _, q := range questions {
		start = time.Now()
		sr, err := o.scorer.Score(ctx, q, text)
		if err != nil {
			return model.GradedSubmission{}, fmt.Errorf("score question %d: %w", q.Number, err)
		}
		o.metrics.since(stageScore, start)
		answers = append(answers, model.Answer{
			SubmissionID:      sub.ID,
			QuestionID:        q.ID,
			StudentAnswerText: text,
			ScorePercent:      sr.ScorePercent,
			ConfidenceScore:   sr.ConfidenceScore,
			ErrorAnalysis:     sr.ErrorAnalysis,
			LLMFeedback:       sr.Feedback,
		})
		scores = append(scores, model.WeightedScore{MaxPoints: q.MaxPoints, ScorePercent: sr.ScorePercent})
	}

	return model.GradedSubmission{
		Answers:           answers,
		TotalScorePercent: WeightedTotal(scores),
		OCRConfidence:     model.WorstConfidence(ocr),
	}, nil
}

// warnOverlaps logs submissions whose page ranges share pages. Grading
// proceeds: the mapping is the caller's responsibility.
func warnOverlaps(log *slog.Logger, subs []model.Submission) {
	if a, b, ok := firstOverlap(subs); ok {
		log.Warn("submission page ranges overlap",
			"first", a.ID, "first_pages", fmt.Sprintf("%d-%d", a.StartPage, a.EndPage),
			"second", b.ID, "second_pages", fmt.Sprintf("%d-%d", b.StartPage, b.EndPage))
	}
}

func firstOverlap(subs []model.Submission) (model.Submission, model.Submission, bool) {
	byRef := make(map[string][]model.Submission)
	for _, s := range subs {
		byRef[s.ScanRef] = append(byRef[s.ScanRef], s)
	}
	for _, group := range byRef {
		sort.Slice(group, func(i, j int) bool { return group[i].StartPage < group[j].StartPage })
		for i := 1; i < len(group); i++ {
			if group[i].StartPage <= group[i-1].EndPage {
				return group[i-1], group[i], true
			}
		}
	}
	return model.Submission{}, model.Submission{}, false
}
