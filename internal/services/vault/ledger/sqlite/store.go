package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/id"
	"github.com/louisbranch/recordvault/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/integrity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/sqlite/migrations"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is the SQLite-backed permission ledger. Views and journal live in one
// database so every mutation and its event commit together.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
	now     func() time.Time
	newID   func() (string, error)

	notifyMu sync.Mutex
	notifyCh chan struct{}
}

var (
	_ ledger.Ledger      = (*Store)(nil)
	_ ledger.Snapshotter = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the event id generator.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Open opens the ledger database at path and applies embedded migrations.
// Journal rows are signed with keyring.
func Open(path string, keyring *integrity.Keyring, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if keyring == nil {
		return nil, fmt.Errorf("journal keyring is required")
	}

	// Immediate transactions take the write lock up front, so concurrent
	// guarded submits serialize instead of failing on lock upgrade.
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB:    sqlDB,
		keyring:  keyring,
		now:      time.Now,
		newID:    id.NewID,
		notifyCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(store)
	}
	if _, err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// changed returns a channel closed on the next committed mutation.
func (s *Store) changed() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notifyCh
}

func (s *Store) broadcast() {
	s.notifyMu.Lock()
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	s.notifyMu.Unlock()
}

// classify maps driver and context failures onto ledger error codes. Guard
// failures pass through untouched.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := ledger.FailedGuard(err); ok {
		return err
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Wrap(apperrors.CodeLedgerTimeout, op+" timed out", err)
	}
	if isConstraintError(err) {
		return apperrors.Wrap(apperrors.CodeLedgerRejected, op+" rejected", err)
	}
	return apperrors.Wrap(apperrors.CodeLedgerUnavailable, op+" failed", err)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
