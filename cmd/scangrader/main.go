package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/scangrader/internal/grading"
	"github.com/pavelanni/scangrader/internal/handler"
	appI18n "github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/model"
)

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "scangrader",
		Short:        "Grade scanned handwritten math exams with OCR and LLM scoring",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), overrideCmd(), importCmd(), registerCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db", "scangrader.db", "SQLite path or PostgreSQL connection string")
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("lang", "nb", "Prompt and message language (nb, en)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func addStorageFlags(f *pflag.FlagSet) {
	f.String("storage", "local", "Scan storage backend (local, minio)")
	f.String("storage-dir", "data/blobs", "Root directory for local scan storage")
	f.String("minio-endpoint", "localhost:9000", "MinIO/S3 endpoint")
	f.String("minio-access-key", "", "MinIO access key")
	f.String("minio-secret-key", "", "MinIO secret key")
	f.String("minio-bucket", "scans", "MinIO bucket")
	f.Bool("minio-ssl", false, "Use TLS for MinIO")
}

func addGradingFlags(f *pflag.FlagSet) {
	f.String("gemini-key", "", "Gemini API key for OCR (or set SCANGRADER_GEMINI_KEY)")
	f.String("gemini-model", "gemini-2.0-flash", "Gemini model for OCR")
	f.String("gemini-url", "", "Override the Gemini API base URL")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL for scoring")
	f.String("llm-key", "", "API key for the scoring LLM")
	f.String("llm-model", "gpt-4o", "Scoring model name")
	f.Int("workers", 1, "Submissions graded concurrently")
	f.Duration("ocr-timeout", 45*time.Second, "Timeout per OCR request")
	f.Duration("score-timeout", 45*time.Second, "Timeout per scoring request")
	f.Float64("ocr-rps", 0, "Max OCR requests per second (0 = unlimited)")
	f.Float64("score-rps", 0, "Max scoring requests per second (0 = unlimited)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addCommonFlags(f)
	addStorageFlags(f)
	addGradingFlags(f)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade all scanned submissions of an exam",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to grade (required)")
	addCommonFlags(f)
	addStorageFlags(f)
	addGradingFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func overrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Set a teacher score on one answer and recompute the total",
		RunE:  runOverride,
	}
	f := cmd.Flags()
	f.Int64("answer-id", 0, "Answer to override (required)")
	f.Float64("score", 0, "New score percent, 0-100 (required)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("answer-id")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import exam questions from a JSON file",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("exam-name", "", "Exam name, created if missing (required)")
	f.StringP("file", "f", "", "Questions JSON file (required)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("exam-name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Upload a scan and register student page ranges",
		RunE:  runRegister,
	}
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam the scan belongs to (required)")
	f.String("scan", "", "Scanned PDF file (required)")
	f.StringSlice("map", nil, "Page mapping student:start-end (repeatable)")
	addCommonFlags(f)
	addStorageFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	_ = cmd.MarkFlagRequired("scan")
	_ = cmd.MarkFlagRequired("map")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SCANGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("scangrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/scangrader")
	v.AddConfigPath("/etc/scangrader")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang, err := initLanguage(v)
	if err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := openBlobs(ctx, v)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := grading.NewMetrics(reg)

	orch, err := newOrchestrator(ctx, v, db, blobs, metrics)
	if err != nil {
		return err
	}

	h := handler.New(db, orch, grading.NewOverrideService(db, nil), grading.NewRegistrar(db, blobs), reg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"storage", v.GetString("storage"),
		"ocr_model", v.GetString("gemini-model"),
		"score_model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"workers", v.GetInt("workers"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang, err := initLanguage(v)
	if err != nil {
		return err
	}
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	blobs, err := openBlobs(ctx, v)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(ctx, v, db, blobs, nil)
	if err != nil {
		return err
	}

	res, err := orch.GradeExam(appI18n.WithLanguage(ctx, lang), v.GetInt64("exam-id"))
	if err != nil {
		return fmt.Errorf("grade exam: %w", err)
	}
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	slog.Info(res.Summary, "run_id", res.RunID)
	if res.ErrorCount > 0 {
		return fmt.Errorf("%d of %d submissions failed", res.ErrorCount, len(res.Results))
	}
	return nil
}

func runOverride(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := grading.NewOverrideService(db, slog.Default())
	total, err := svc.OverrideAnswer(cmd.Context(), v.GetInt64("answer-id"), v.GetFloat64("score"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", total)
	return err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	lang, err := initLanguage(v)
	if err != nil {
		return err
	}
	ctx = appI18n.WithLanguage(ctx, lang)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	path := v.GetString("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	examID, err := db.EnsureExam(ctx, v.GetString("exam-name"))
	if err != nil {
		return fmt.Errorf("ensure exam: %w", err)
	}

	key := importKey(examID, path)
	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(ctx, key)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		fmt.Fprintln(cmd.OutOrStdout(), appI18n.T(ctx, "ImportUnchanged"))
		return nil
	}

	var questions []model.QuestionImport
	if err := json.Unmarshal(data, &questions); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for i, q := range questions {
		if err := validate.Struct(q); err != nil {
			return fmt.Errorf("question %d in %s: %w", i+1, path, err)
		}
	}

	n, err := db.ReplaceQuestions(ctx, examID, questions)
	if err != nil {
		return fmt.Errorf("import questions from %s: %w", path, err)
	}
	if err := db.SetImportedFileHash(ctx, key, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported questions", "path", path, "exam_id", examID, "count", n)
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "QuestionsImported", n))
	return nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	lang, err := initLanguage(v)
	if err != nil {
		return err
	}
	ctx = appI18n.WithLanguage(ctx, lang)

	mappings, err := parseMappings(v.GetStringSlice("map"))
	if err != nil {
		return err
	}
	if err := grading.ValidateMappings(mappings); err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	blobs, err := openBlobs(ctx, v)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(v.GetString("scan"))
	if err != nil {
		return fmt.Errorf("read scan: %w", err)
	}

	reg := grading.NewRegistrar(db, blobs)
	examID := v.GetInt64("exam-id")
	ref, pages, err := reg.UploadScan(ctx, examID, data)
	if err != nil {
		return err
	}
	ids, err := reg.Register(ctx, examID, ref, mappings)
	if err != nil {
		return err
	}
	slog.Info("registered submissions", "exam_id", examID, "scan_ref", ref, "pages", pages, "submissions", ids)
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "SubmissionsRegistered", len(ids)))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportExam(cmd.Context(), v.GetInt64("exam-id"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// importKey scopes an imported file's hash to the exam it was loaded into.
func importKey(examID int64, path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%d:%s", examID, path)
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
