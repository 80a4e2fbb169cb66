package ironlaw

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ViolationStore persists the violation audit trail. Violations are
// append-and-resolve: nothing is ever deleted.
type ViolationStore interface {
	// Record inserts a newly detected violation
	Record(ctx context.Context, v *Violation) error
	// Resolve stamps an open violation's resolution time
	Resolve(ctx context.Context, id string, at time.Time) error
	// Open returns violations with no resolution, oldest first
	Open(ctx context.Context) ([]Violation, error)
	// History returns the newest violations up to limit, newest first
	History(ctx context.Context, limit int) ([]Violation, error)
	// Close releases the store
	Close() error
}

const violationSchema = `
CREATE TABLE IF NOT EXISTS violations (
	id          TEXT PRIMARY KEY,
	law         INTEGER NOT NULL,
	type        TEXT NOT NULL,
	message     TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_violations_open ON violations(law) WHERE resolved_at IS NULL;
`

// SQLiteStore is the ViolationStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the violation database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating violation db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening violation db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging violation db: %w", err)
	}
	if _, err := db.Exec(violationSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing violation schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record inserts a new open violation row.
func (s *SQLiteStore) Record(ctx context.Context, v *Violation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violations (id, law, type, message, detected_at, resolved_at) VALUES (?, ?, ?, ?, ?, NULL)`,
		v.ID, v.Law, v.Type, v.Message, v.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording violation: %w", err)
	}
	return nil
}

// Resolve marks the violation resolved. Resolving an already-resolved or
// unknown id is an error: the monitor's open-set bookkeeping is wrong.
func (s *SQLiteStore) Resolve(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE violations SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("resolving violation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving violation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("violation %s not found or already resolved", id)
	}
	return nil
}

// Open returns unresolved violations, oldest first.
func (s *SQLiteStore) Open(ctx context.Context) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, law, type, message, detected_at, resolved_at FROM violations WHERE resolved_at IS NULL ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying open violations: %w", err)
	}
	defer rows.Close()
	return scanViolations(rows)
}

// History returns the newest violations (open or resolved), newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]Violation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, law, type, message, detected_at, resolved_at FROM violations ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying violation history: %w", err)
	}
	defer rows.Close()
	return scanViolations(rows)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanViolations(rows *sql.Rows) ([]Violation, error) {
	violations := make([]Violation, 0)
	for rows.Next() {
		var v Violation
		var detected string
		var resolved sql.NullString
		if err := rows.Scan(&v.ID, &v.Law, &v.Type, &v.Message, &detected, &resolved); err != nil {
			return nil, fmt.Errorf("scanning violation row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, detected)
		if err != nil {
			return nil, fmt.Errorf("parsing detected_at: %w", err)
		}
		v.DetectedAt = t
		if resolved.Valid {
			rt, err := time.Parse(time.RFC3339Nano, resolved.String)
			if err != nil {
				return nil, fmt.Errorf("parsing resolved_at: %w", err)
			}
			v.ResolvedAt = &rt
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
