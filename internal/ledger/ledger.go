// Package ledger keeps one row per processed image: its latest status and
// how many times it has been submitted.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tendant/xtal-pipeline/internal/logging"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned by Get for an image never recorded.
var ErrNotFound = errors.New("ledger: image not recorded")

// Entry is the ledger row for one image.
type Entry struct {
	Image     string `json:"image"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Info      string `json:"info"`
	SeenCount int    `json:"seen_count"`
}

// Ledger records per-image run outcomes
type Ledger struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver and prepares the table.
func Open(ctx context.Context, driver, dsn string) (*Ledger, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("ledger: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection keeps an in-memory database alive and serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping %s: %w", driver, err)
	}
	l, err := New(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an existing connection pool and ensures the table exists.
func New(ctx context.Context, db *sql.DB, driver string) (*Ledger, error) {
	l := &Ledger{db: db, driver: driver}
	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger table: %w", err)
	}
	return l, nil
}

// ensureTable creates the image_runs table if it doesn't exist
func (l *Ledger) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS image_runs (
			image TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			info TEXT NOT NULL DEFAULT '',
			first_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			seen_count INTEGER DEFAULT 1
		)
	`
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create image_runs table: %w", err)
	}

	logging.Info("image_runs table ready", "driver", l.driver)
	return nil
}

// Record upserts the outcome of one run and returns how many times the
// image has now been seen.
func (l *Ledger) Record(ctx context.Context, image, runID, status, info string) (int, error) {
	query := `
		INSERT INTO image_runs (image, run_id, status, info, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 1)
		ON CONFLICT (image) DO UPDATE
		SET last_seen_at = CURRENT_TIMESTAMP,
		    seen_count = image_runs.seen_count + 1,
		    run_id = EXCLUDED.run_id,
		    status = EXCLUDED.status,
		    info = EXCLUDED.info
		RETURNING seen_count
	`

	var seenCount int
	err := l.db.QueryRowContext(ctx, l.rebind(query), image, runID, status, info).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return seenCount, nil
}

// Get returns the ledger row for image.
func (l *Ledger) Get(ctx context.Context, image string) (*Entry, error) {
	query := `SELECT image, run_id, status, info, seen_count FROM image_runs WHERE image = $1`

	var e Entry
	err := l.db.QueryRowContext(ctx, l.rebind(query), image).Scan(&e.Image, &e.RunID, &e.Status, &e.Info, &e.SeenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &e, nil
}

// SeenCount returns how many times image was recorded, 0 if never.
func (l *Ledger) SeenCount(ctx context.Context, image string) (int, error) {
	e, err := l.Get(ctx, image)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.SeenCount, nil
}

// Close closes the underlying pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

var pgPlaceholder = regexp.MustCompile(`\$\d+`)

// rebind rewrites $N placeholders to ? for SQLite. Arguments are always
// passed in placeholder order.
func (l *Ledger) rebind(query string) string {
	if l.driver != DriverSQLite {
		return query
	}
	return pgPlaceholder.ReplaceAllString(query, "?")
}
