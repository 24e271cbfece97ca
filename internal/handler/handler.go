package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/scangrader/internal/grading"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/pdfpages"
	"github.com/pavelanni/scangrader/internal/store"
)

// MaxScanBytes bounds the size of an uploaded scan.
const MaxScanBytes = 200 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Store is the read side the handlers need.
type Store interface {
	GetExam(ctx context.Context, id int64) (model.Exam, error)
	ListSubmissions(ctx context.Context, examID int64) ([]model.Submission, error)
	ListAnswers(ctx context.Context, submissionID int64) ([]model.Answer, error)
	Ping(ctx context.Context) error
}

type Grader interface {
	GradeExam(ctx context.Context, examID int64) (*model.BatchResult, error)
}

type Overrider interface {
	OverrideAnswer(ctx context.Context, answerID int64, percent float64) (int, error)
}

type Registrar interface {
	UploadScan(ctx context.Context, examID int64, data []byte) (string, int, error)
	Register(ctx context.Context, examID int64, scanRef string, mappings []model.PageMapping) ([]int64, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     Store
	grader    Grader
	overrider Overrider
	registrar Registrar
	gatherer  prometheus.Gatherer
}

// New creates a new Handler. Metrics are served from gatherer.
func New(s Store, g Grader, o Overrider, r Registrar, gatherer prometheus.Gatherer) *Handler {
	return &Handler{store: s, grader: g, overrider: o, registrar: r, gatherer: gatherer}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/exams/{examID}", func(r chi.Router) {
		r.Post("/scans", h.handleUploadScan)
		r.Post("/submissions", h.handleRegister)
		r.Get("/submissions", h.handleListSubmissions)
		r.Post("/grade", h.handleGrade)
	})
	r.Post("/answers/{answerID}/override", h.handleOverride)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Ref   string `json:"ref"`
	Pages int    `json:"pages"`
}

func (h *Handler) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxScanBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "scan too large or unreadable body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty body: expected a PDF")
		return
	}
	ref, pages, err := h.registrar.UploadScan(r.Context(), examID, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Ref: ref, Pages: pages})
}

type registerRequest struct {
	ScanRef  string              `json:"scanRef" validate:"required"`
	Mappings []model.PageMapping `json:"mappings" validate:"required,min=1,dive"`
}

type registerResponse struct {
	SubmissionIDs []int64 `json:"submissionIds"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := h.registrar.Register(r.Context(), examID, req.ScanRef, req.Mappings)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{SubmissionIDs: ids})
}

type submissionView struct {
	model.Submission
	Answers []model.Answer `json:"answers"`
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := h.store.GetExam(ctx, examID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	subs, err := h.store.ListSubmissions(ctx, examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]submissionView, 0, len(subs))
	for _, sub := range subs {
		answers, err := h.store.ListAnswers(ctx, sub.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if answers == nil {
			answers = []model.Answer{}
		}
		views = append(views, submissionView{Submission: sub, Answers: answers})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	res, err := h.grader.GradeExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type overrideRequest struct {
	ScorePercent *float64 `json:"scorePercent" validate:"required"`
}

type overrideResponse struct {
	TotalScorePercent int `json:"totalScorePercent"`
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	answerID, ok := idParam(w, r, "answerID")
	if !ok {
		return
	}
	var req overrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	total, err := h.overrider.OverrideAnswer(r.Context(), answerID, *req.ScorePercent)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overrideResponse{TotalScorePercent: total})
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// decodeJSON decodes and validates the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, grading.ErrInvalidScore),
		errors.Is(err, grading.ErrInvalidMapping),
		errors.Is(err, pdfpages.ErrUnreadablePDF):
		return http.StatusBadRequest
	case errors.Is(err, grading.ErrNoQuestionsFound),
		errors.Is(err, grading.ErrNoEligibleSubmissions),
		errors.Is(err, grading.ErrOverlappingRanges),
		errors.Is(err, pdfpages.ErrInvalidPageRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrStaleStatus):
		return http.StatusConflict
	case errors.Is(err, grading.ErrScanDownload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
