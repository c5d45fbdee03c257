// Package sqlite provides the SQLite-backed station store.
//
// The one-active-station rule is enforced twice: by a partial unique index on
// station_records and by the shared commit rules evaluated inside each write
// transaction. Busy errors are retried with backoff.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"labflow/internal/acceptance"
	"labflow/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

// Store manages station persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	engine *store.RulesEngine
	nowFn  func() time.Time
	idFn   func() string
}

const (
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func sqliteCode(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err)&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isActiveIndexViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if sqliteCode(err)&0xff != sqliteConstraintCode && !strings.Contains(msg, "constraint failed") {
		return false
	}
	return strings.Contains(msg, "station_records.item_id")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the station database at path.
// A nil engine disables the commit rules; the unique index still applies.
func Open(path string, engine *store.RulesEngine) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps writers in one queue.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{
		db:     db,
		path:   path,
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// SetClock replaces the time source used for record timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.nowFn = now
}

type txView struct {
	tx *sql.Tx
}

func (v txView) StationsForItem(ctx context.Context, itemID string) ([]acceptance.StationRecord, error) {
	return queryStations(ctx, v.tx, "WHERE item_id = ? ORDER BY seq", itemID)
}

// withTx runs fn in a transaction, evaluates the commit rules over the
// changes it recorded, and commits. The whole attempt is retried on busy.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx, now time.Time) ([]store.Change, error)) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		changes, err := fn(tx, s.nowFn())
		if err != nil {
			return translate(err)
		}
		if err := s.engine.Check(ctx, txView{tx: tx}, changes); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", translate(err))
		}
		return nil
	})
}

func translate(err error) error {
	if isActiveIndexViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrActiveStationExists, err)
	}
	return err
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ensureContext(ctx), query, args...)
}
