package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the job records. It is the single
// source of truth for job lifecycle; every mutation is a single-row atomic
// statement.
type Store struct {
	db *sql.DB

	// now is a test seam for TTL behavior.
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ocrd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, status, engine, params_json, file_path, result_path,
	error_kind, error_message, created_at, started_at, completed_at, expires_at`

// CreateJob inserts a new pending job. pendingTTL is the safety-net expiry
// guarding against orphaned records if no worker ever claims the job.
func (s *Store) CreateJob(j Job, pendingTTL time.Duration) error {
	now := s.now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, status, engine, params_json, file_path, created_at, expires_at)
		VALUES (?, 'pending', ?, ?, ?, ?, ?)`,
		j.ID, j.Engine, j.ParamsJSON, j.FilePath,
		fmtTime(now), fmtTime(now.Add(pendingTTL)),
	)
	return err
}

// ClaimJob atomically transitions one specific job pending → processing.
// Exactly one of any number of concurrent callers succeeds; the rest get
// ErrInvalidTransition (ErrNotFound when the job does not exist at all).
// The claim re-arms expires_at by the job's pending window so a live
// processing job never expires out from under its worker; the safety TTL
// only fires when the claimer crashes without reaching a terminal state.
func (s *Store) ClaimJob(id string) error {
	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning claim transaction: %w", err)
	}

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("selecting job: %w", err)
	}
	if !j.ExpiresAt.After(now) {
		tx.Rollback()
		return ErrNotFound
	}
	if j.Status != StatusPending {
		tx.Rollback()
		return ErrInvalidTransition
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = 'processing', started_at = ?, expires_at = ?
		WHERE id = ? AND status = 'pending'`,
		fmtTime(now), fmtTime(now.Add(j.ExpiresAt.Sub(j.CreatedAt))), id,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("claiming job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return ErrInvalidTransition
	}
	return tx.Commit()
}

// ClaimNext claims the oldest claimable pending job and returns it, or nil
// when the queue is empty. The select and the conditional update run in one
// transaction so two pollers never claim the same job. Like ClaimJob, the
// claim re-arms expires_at by the job's pending window.
func (s *Store) ClaimNext() (*Job, error) {
	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	row := tx.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND expires_at > ?
		ORDER BY created_at ASC LIMIT 1`, fmtTime(now))
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	expires := now.Add(j.ExpiresAt.Sub(j.CreatedAt))
	res, err := tx.Exec(`UPDATE jobs SET status = 'processing', started_at = ?, expires_at = ? WHERE id = ? AND status = 'pending'`,
		fmtTime(now), fmtTime(expires), j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = StatusProcessing
	j.StartedAt = now
	j.ExpiresAt = expires
	return &j, nil
}

// CompleteJob atomically transitions processing → completed, records the
// result path, and re-arms the expiry to completed_at + retention.
func (s *Store) CompleteJob(id, resultPath string, retention time.Duration) error {
	now := s.now().UTC()
	return s.finishJob(id, `
		UPDATE jobs SET status = 'completed', result_path = ?, completed_at = ?, expires_at = ?
		WHERE id = ? AND status = 'processing'`,
		resultPath, fmtTime(now), fmtTime(now.Add(retention)), id)
}

// FailJob atomically transitions a non-terminal job to failed with a typed
// error, and re-arms the expiry to completed_at + retention. Failing from
// pending is allowed so a crash-recovery sweep can report stuck jobs.
func (s *Store) FailJob(id, errKind, errMsg string, retention time.Duration) error {
	now := s.now().UTC()
	return s.finishJob(id, `
		UPDATE jobs SET status = 'failed', error_kind = ?, error_message = ?, completed_at = ?, expires_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`,
		errKind, errMsg, fmtTime(now), fmtTime(now.Add(retention)), id)
}

func (s *Store) finishJob(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetJob(id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// GetJob fetches a job by ID. Records past their expiry behave as deleted
// even before the reaper sweeps them.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if !j.ExpiresAt.After(s.now().UTC()) {
		return Job{}, ErrNotFound
	}
	return j, nil
}

// ExpiredJobs returns up to limit jobs whose expiry has passed, oldest
// first, for the reaper to delete along with their files.
func (s *Store) ExpiredJobs(limit int) ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE expires_at <= ? ORDER BY expires_at ASC LIMIT ?`,
		fmtTime(s.now().UTC()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job record. Deleting an absent record is a no-op, so
// reaper sweeps stay idempotent.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (Job, error) {
	var j Job
	var status string
	var createdAt, expiresAt string
	var startedAt, completedAt sql.NullString
	err := sc.Scan(&j.ID, &status, &j.Engine, &j.ParamsJSON, &j.FilePath, &j.ResultPath,
		&j.ErrorKind, &j.ErrorMessage, &createdAt, &startedAt, &completedAt, &expiresAt)
	if err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return Job{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	if startedAt.Valid && startedAt.String != "" {
		if j.StartedAt, err = parseTime(startedAt.String); err != nil {
			return Job{}, fmt.Errorf("parsing started_at: %w", err)
		}
	}
	if completedAt.Valid && completedAt.String != "" {
		if j.CompletedAt, err = parseTime(completedAt.String); err != nil {
			return Job{}, fmt.Errorf("parsing completed_at: %w", err)
		}
	}
	return j, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
