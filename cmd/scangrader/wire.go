package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/pavelanni/scangrader/internal/blob"
	"github.com/pavelanni/scangrader/internal/grading"
	appI18n "github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/llm"
	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/store"
)

// initLanguage validates --lang and loads the message bundle for it.
func initLanguage(v *viper.Viper) (string, error) {
	lang := v.GetString("lang")
	if !prompts.IsValidLanguage(lang) {
		return "", fmt.Errorf("unsupported language %q (use nb or en)", lang)
	}
	if err := appI18n.Init(lang); err != nil {
		return "", fmt.Errorf("init i18n: %w", err)
	}
	return lang, nil
}

func openStore(v *viper.Viper) (*store.Store, error) {
	dialect := store.Dialect(strings.ToLower(v.GetString("db-driver")))
	switch dialect {
	case store.DialectSQLite, store.DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported db driver %q (use sqlite or postgres)", dialect)
	}
	s, err := store.Open(dialect, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func openBlobs(ctx context.Context, v *viper.Viper) (blob.Storage, error) {
	switch backend := strings.ToLower(v.GetString("storage")); backend {
	case "local":
		return blob.NewLocalStorage(v.GetString("storage-dir"))
	case "minio":
		m, err := blob.NewMinioStorage(blob.MinioConfig{
			Endpoint:  v.GetString("minio-endpoint"),
			AccessKey: v.GetString("minio-access-key"),
			SecretKey: v.GetString("minio-secret-key"),
			Bucket:    v.GetString("minio-bucket"),
			UseSSL:    v.GetBool("minio-ssl"),
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q (use local or minio)", backend)
	}
}

func newOrchestrator(ctx context.Context, v *viper.Viper, db *store.Store, blobs blob.Storage,
	metrics *grading.Metrics) (*grading.Orchestrator, error) {
	lang := prompts.Language(v.GetString("lang"))

	vision, err := llm.NewGemini(ctx, v.GetString("gemini-key"), v.GetString("gemini-model"), v.GetString("gemini-url"))
	if err != nil {
		return nil, err
	}
	ocr, err := llm.NewTranscriber(vision, lang, llm.CallOptions{
		Timeout: v.GetDuration("ocr-timeout"),
		Limiter: limiter(v.GetFloat64("ocr-rps")),
	})
	if err != nil {
		return nil, err
	}
	scorer := llm.NewScorer(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), lang, llm.CallOptions{
		Timeout: v.GetDuration("score-timeout"),
		Limiter: limiter(v.GetFloat64("score-rps")),
	})

	return grading.NewOrchestrator(db, blobs, ocr, scorer,
		grading.WithWorkers(v.GetInt("workers")),
		grading.WithMetrics(metrics),
		grading.WithLogger(slog.Default()),
	), nil
}

// limiter returns nil (unlimited) for rps <= 0.
func limiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// parseMappings parses "student:start-end" flags. A single page may be
// written as "student:3".
func parseMappings(raw []string) ([]model.PageMapping, error) {
	out := make([]model.PageMapping, 0, len(raw))
	for _, r := range raw {
		m, err := parseMapping(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func parseMapping(s string) (model.PageMapping, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return model.PageMapping{}, fmt.Errorf("invalid mapping %q: want student:start-end", s)
	}
	student, pages := strings.TrimSpace(s[:i]), s[i+1:]

	startStr, endStr, isRange := strings.Cut(pages, "-")
	if !isRange {
		endStr = startStr
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return model.PageMapping{}, fmt.Errorf("invalid start page in %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return model.PageMapping{}, fmt.Errorf("invalid end page in %q: %w", s, err)
	}
	return model.PageMapping{StudentID: student, StartPage: start, EndPage: end}, nil
}
