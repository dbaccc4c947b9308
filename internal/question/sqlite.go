package question

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "prepvox.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			company TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create questions table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_questions_company ON questions(company)"); err != nil {
		return fmt.Errorf("create questions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Create inserts a new question and returns it with its assigned id.
func (s *SQLiteStore) Create(company, text string) (Question, error) {
	company = strings.TrimSpace(company)
	text = strings.TrimSpace(text)
	if company == "" || text == "" {
		return Question{}, errors.New("company and text are required")
	}

	q := Question{
		ID:        uuid.NewString(),
		Company:   company,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO questions(id, company, text, created_at) VALUES(?, ?, ?, ?)`,
		q.ID,
		q.Company,
		q.Text,
		q.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// Delete removes a question by id. Returns sql.ErrNoRows when the id is unknown.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete question %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ByCompany returns all questions banked for one company, oldest first.
func (s *SQLiteStore) ByCompany(company string) ([]Question, error) {
	rows, err := s.db.Query(
		`SELECT id, company, text, created_at FROM questions WHERE company = ? ORDER BY created_at ASC`,
		company,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions for company %s: %w", company, err)
	}
	defer func() { _ = rows.Close() }()

	return scanQuestions(rows)
}

// All returns every question, optionally filtered by company.
func (s *SQLiteStore) All(companyFilter string) ([]Question, error) {
	if companyFilter != "" {
		return s.ByCompany(companyFilter)
	}

	rows, err := s.db.Query(
		`SELECT id, company, text, created_at FROM questions ORDER BY company ASC, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanQuestions(rows)
}

// Companies returns the distinct companies in the bank with their question counts.
func (s *SQLiteStore) Companies() ([]CompanyCount, error) {
	rows, err := s.db.Query(
		`SELECT company, COUNT(*) FROM questions GROUP BY company ORDER BY company ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make([]CompanyCount, 0, 16)
	for rows.Next() {
		var c CompanyCount
		if err := rows.Scan(&c.Company, &c.Count); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company rows: %w", err)
	}

	return counts, nil
}

// CountByCompany returns how many questions one company has banked.
func (s *SQLiteStore) CountByCompany(company string) (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE company = ?`, company).Scan(&count); err != nil {
		return 0, fmt.Errorf("count questions for company %s: %w", company, err)
	}
	return count, nil
}

func scanQuestions(rows *sql.Rows) ([]Question, error) {
	questions := make([]Question, 0, 16)
	for rows.Next() {
		var q Question
		var createdAt string
		if err := rows.Scan(&q.ID, &q.Company, &q.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse question %s created_at: %w", q.ID, err)
		}
		q.CreatedAt = parsed

		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question rows: %w", err)
	}

	return questions, nil
}
