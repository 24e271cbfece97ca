package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleStatus is returned when a conditional status update finds the
	// row in a different status than expected.
	ErrStaleStatus = errors.New("submission status changed concurrently")
)

// Dialect selects SQL differences between the supported databases.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New opens (or creates) a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(DialectSQLite, dbPath)
}

// Open connects to the database and applies the schema. For SQLite dsn is a
// file path or ":memory:"; for PostgreSQL it is a pgx connection string.
func Open(dialect Dialect, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
		if err == nil {
			// One connection serializes writers and keeps :memory: databases alive.
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS exams (
	id {{pk}},
	name TEXT NOT NULL UNIQUE,
	created_at {{time}} NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id {{pk}},
	exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	part INTEGER NOT NULL DEFAULT 1,
	question_number INTEGER NOT NULL,
	content TEXT NOT NULL,
	max_points {{float}} NOT NULL DEFAULT 0,
	solution TEXT NOT NULL DEFAULT '',
	grading_criteria TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id);

CREATE TABLE IF NOT EXISTS submissions (
	id {{pk}},
	exam_id INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL,
	scan_ref TEXT NOT NULL,
	start_page INTEGER NOT NULL,
	end_page INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'scanned',
	total_score_percent {{float}},
	ocr_confidence TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	graded_at {{time}},
	created_at {{time}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_exam_status ON submissions(exam_id, status);

CREATE TABLE IF NOT EXISTS answers (
	id {{pk}},
	submission_id INTEGER NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES questions(id),
	student_answer_text TEXT NOT NULL DEFAULT '',
	score_percent {{float}} NOT NULL DEFAULT 0,
	confidence_score {{float}} NOT NULL DEFAULT 0,
	error_analysis TEXT NOT NULL DEFAULT '{}',
	llm_feedback TEXT NOT NULL DEFAULT '',
	teacher_override BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (submission_id, question_id)
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	sha256 TEXT NOT NULL,
	imported_at {{time}} NOT NULL
);
`

func (s *Store) migrate() error {
	var r *strings.Replacer
	switch s.dialect {
	case DialectPostgres:
		r = strings.NewReplacer("{{pk}}", "BIGSERIAL PRIMARY KEY", "{{time}}", "TIMESTAMPTZ", "{{float}}", "DOUBLE PRECISION")
	default:
		r = strings.NewReplacer("{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{time}}", "DATETIME", "{{float}}", "REAL")
	}
	_, err := s.db.Exec(r.Replace(schema))
	return err
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertID runs an INSERT ... RETURNING id statement.
func (s *Store) insertID(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}
