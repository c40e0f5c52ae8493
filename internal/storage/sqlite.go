package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
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

// Store wraps a SQLite database holding users and their uploads.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "deckexplain.db")
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

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode so the API and worker processes can share the file.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
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
	// Ensure schema_version table exists (bootstrap).
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

	// Sort by filename to guarantee ascending order.
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

		// Check if already applied.
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

// timeLayout is fixed-width so lexical order of stored values is time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

// ErrNotPending is returned when a state transition is attempted on an upload
// that has already reached a terminal state.
var ErrNotPending = errors.New("upload is not pending")

// --- Users ---

func getOrCreateUser(ctx context.Context, tx *sql.Tx, email string) (User, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO users (email) VALUES (?) ON CONFLICT(email) DO NOTHING`, email); err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	u := User{Email: email}
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&u.ID); err != nil {
		return User{}, fmt.Errorf("selecting user: %w", err)
	}
	return u, nil
}

// --- Uploads ---

// CreateUpload inserts a pending upload. When email is non-empty the owning
// user is resolved or created in the same transaction.
func (s *Store) CreateUpload(ctx context.Context, uid, filename, email string, at time.Time) (Upload, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Upload{}, fmt.Errorf("beginning upload transaction: %w", err)
	}
	defer tx.Rollback()

	up := Upload{
		UID:        uid,
		Filename:   filename,
		UploadTime: at.UTC().Truncate(time.Microsecond),
		Status:     StatusPending,
	}

	var userID sql.NullInt64
	if email != "" {
		u, err := getOrCreateUser(ctx, tx, email)
		if err != nil {
			return Upload{}, err
		}
		userID = sql.NullInt64{Int64: u.ID, Valid: true}
		up.UserID = u.ID
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO uploads (uid, filename, upload_time, status, user_id)
		VALUES (?, ?, ?, ?, ?)`,
		uid, filename, formatTime(up.UploadTime), StatusPending, userID,
	)
	if err != nil {
		return Upload{}, fmt.Errorf("inserting upload: %w", err)
	}
	if up.ID, err = res.LastInsertId(); err != nil {
		return Upload{}, fmt.Errorf("reading upload id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Upload{}, fmt.Errorf("committing upload: %w", err)
	}
	return up, nil
}

const uploadColumns = `id, uid, filename, upload_time, finish_time, status, user_id, attempts, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (Upload, error) {
	var (
		u          Upload
		uploadTime string
		finishTime sql.NullString
		userID     sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.UID, &u.Filename, &uploadTime, &finishTime, &u.Status, &userID, &u.Attempts, &u.LastError); err != nil {
		return Upload{}, err
	}
	t, err := parseTime(uploadTime)
	if err != nil {
		return Upload{}, fmt.Errorf("parsing upload_time for %s: %w", u.UID, err)
	}
	u.UploadTime = t
	if finishTime.Valid {
		if u.FinishTime, err = parseTime(finishTime.String); err != nil {
			return Upload{}, fmt.Errorf("parsing finish_time for %s: %w", u.UID, err)
		}
	}
	u.UserID = userID.Int64
	return u, nil
}

func (s *Store) GetUpload(ctx context.Context, uid string) (Upload, error) {
	u, err := scanUpload(s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE uid = ?`, uid))
	if err == sql.ErrNoRows {
		return Upload{}, ErrNotFound
	}
	return u, err
}

// LatestUpload returns the most recent upload of filename owned by the user
// with the given email. Uploads made in the same microsecond are ordered by
// insertion.
func (s *Store) LatestUpload(ctx context.Context, email, filename string) (Upload, error) {
	u, err := scanUpload(s.db.QueryRowContext(ctx, `
		SELECT uploads.id, uid, filename, upload_time, finish_time, status, user_id, attempts, last_error
		FROM uploads JOIN users ON users.id = uploads.user_id
		WHERE users.email = ? AND uploads.filename = ?
		ORDER BY upload_time DESC, uploads.id DESC
		LIMIT 1`, email, filename,
	))
	if err == sql.ErrNoRows {
		return Upload{}, ErrNotFound
	}
	return u, err
}

// ListPendingUploads returns every pending upload, oldest first.
func (s *Store) ListPendingUploads(ctx context.Context) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE status = ? ORDER BY upload_time ASC, id ASC`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// MarkDone moves a pending upload to done and stamps its finish time.
func (s *Store) MarkDone(ctx context.Context, uid string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, finish_time = ? WHERE uid = ? AND status = ?`,
		StatusDone, formatTime(at), uid, StatusPending)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, uid)
}

// MarkFailed moves a pending upload to failed, recording reason.
func (s *Store) MarkFailed(ctx context.Context, uid, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, last_error = ? WHERE uid = ? AND status = ?`,
		StatusFailed, reason, uid, StatusPending)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, uid)
}

func (s *Store) checkTransition(ctx context.Context, res sql.Result, uid string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetUpload(ctx, uid); err != nil {
		return err
	}
	return ErrNotPending
}

// RecordAttemptFailure counts a failed processing attempt. The upload stays
// pending until maxAttempts is reached, after which it is marked failed with
// errMsg. maxAttempts <= 0 retries forever. It returns the resulting status.
func (s *Store) RecordAttemptFailure(ctx context.Context, uid, errMsg string, maxAttempts int) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	var status string
	err = tx.QueryRowContext(ctx, `SELECT attempts, status FROM uploads WHERE uid = ?`, uid).Scan(&attempts, &status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if status != StatusPending {
		return status, ErrNotPending
	}

	attempts++
	status = StatusPending
	if maxAttempts > 0 && attempts >= maxAttempts {
		status = StatusFailed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE uploads SET status = ?, attempts = ?, last_error = ? WHERE uid = ?`,
		status, attempts, errMsg, uid); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing attempt failure: %w", err)
	}
	return status, nil
}
