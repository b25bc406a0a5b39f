package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Submission kinds.
const (
	KindLocal = "local"
	KindSlurm = "slurm"
	KindDry   = "dry"
)

// Submission is one recorded launch of an experiment configuration.
type Submission struct {
	ID          string
	CreatedAt   time.Time
	Kind        string
	ConfigPath  string
	Experiments []string
	JobCount    int
	SlurmJobID  string
	ScriptPath  string
	Commit      string
	Dirty       bool
	Note        string
}

// Store keeps the submission history in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		kind TEXT NOT NULL,
		config_path TEXT NOT NULL,
		experiments TEXT,
		job_count INTEGER NOT NULL,
		slurm_job_id TEXT,
		script_path TEXT,
		commit_hash TEXT,
		dirty INTEGER NOT NULL DEFAULT 0,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Record inserts a submission. A missing ID or timestamp is filled in.
func (s *Store) Record(sub *Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	exps, err := json.Marshal(sub.Experiments)
	if err != nil {
		return fmt.Errorf("failed to encode experiment names: %w", err)
	}

	dirty := 0
	if sub.Dirty {
		dirty = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO submissions (id, created_at, kind, config_path, experiments, job_count, slurm_job_id, script_path, commit_hash, dirty, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.CreatedAt, sub.Kind, sub.ConfigPath, string(exps),
		sub.JobCount, sub.SlurmJobID, sub.ScriptPath, sub.Commit, dirty, sub.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// List returns the most recent submissions, newest first. A non-positive
// limit returns all of them.
func (s *Store) List(limit int) ([]Submission, error) {
	query := `
		SELECT id, created_at, kind, config_path, experiments, job_count, slurm_job_id, script_path, commit_hash, dirty, note
		FROM submissions ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		var sub Submission
		var expsJSON string
		var dirty int
		if err := rows.Scan(&sub.ID, &sub.CreatedAt, &sub.Kind, &sub.ConfigPath, &expsJSON,
			&sub.JobCount, &sub.SlurmJobID, &sub.ScriptPath, &sub.Commit, &dirty, &sub.Note); err != nil {
			return nil, err
		}
		if expsJSON != "" {
			json.Unmarshal([]byte(expsJSON), &sub.Experiments)
		}
		sub.Dirty = dirty != 0
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}
