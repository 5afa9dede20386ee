package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
)

// Default timeout for ledger operations
const defaultTimeout = 5 * time.Second

// ErrCorrupt indicates the ledger failed its integrity check at open.
// This is fatal; the database requires manual repair before resuming.
var ErrCorrupt = errors.New("ledger corrupt")

// Ledger is the durable record store backing the pipeline.
type Ledger struct {
	db     *sql.DB
	dbPath string
	flock  *flock.Flock
}

// Open opens (creating if necessary) the ledger database at dbPath.
// The parent directory must already exist and be writable.
func Open(ctx context.Context, dbPath string) (*Ledger, error) {
	logging.Info("Ledger path: %s", dbPath)

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close ledger after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	l := &Ledger{
		db:     db,
		dbPath: dbPath,
		// Sidecar lock file: SQLite's POSIX locks don't hold up on NFS,
		// and the ledger may be shared between hosts in distributed mode.
		flock: flock.New(dbPath + ".lock"),
	}

	if err := l.integrityCheck(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close ledger after integrity failure: %v", closeErr)
		}
		return nil, err
	}

	if err := l.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close ledger after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logging.Info("Ledger initialized successfully at %s", dbPath)
	return l, nil
}

// integrityCheck verifies the database is not corrupt before use.
func (l *Ledger) integrityCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result string
	if err := l.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity check failed: %v", ErrCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check reported %q", ErrCorrupt, result)
	}
	return nil
}

func (l *Ledger) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT NOT NULL,
		side TEXT NOT NULL,
		source_path TEXT NOT NULL,
		status TEXT NOT NULL,
		artifact_path TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		ready_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (id, side)
	);

	CREATE INDEX IF NOT EXISTS idx_items_side_status ON items(side, status);

	CREATE TABLE IF NOT EXISTS pairs (
		left_id TEXT NOT NULL,
		right_id TEXT NOT NULL,
		state TEXT NOT NULL,
		output_path TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		urgent INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (left_id, right_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pairs_state ON pairs(state);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	`

	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// withWriteLock serializes write transactions across processes sharing
// the ledger via the sidecar flock. Unrelated readers are not blocked.
func (l *Ledger) withWriteLock(fn func() error) error {
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	defer func() {
		if err := l.flock.Unlock(); err != nil {
			logging.Error("failed to release ledger lock: %v", err)
		}
	}()
	return fn()
}

// recordQuery records ledger query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LedgerQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.LedgerQueryDuration.WithLabelValues(operation).Observe(duration)
}

// RegisterRun records a coordinator run for operator visibility.
func (l *Ledger) RegisterRun(ctx context.Context, runID, hostname, mode string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("register_run", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO runs (run_id, hostname, mode) VALUES (?, ?, ?)",
			runID, hostname, mode)
		return execErr
	})
	return err
}
