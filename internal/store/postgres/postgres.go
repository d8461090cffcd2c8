// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"flowplane/internal/logger"
	"flowplane/internal/store"
	"flowplane/internal/txqueue"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store provides PostgreSQL-backed implementations of all repositories.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time
}

var (
	_ store.PendingStore   = (*Store)(nil)
	_ store.CompletedStore = (*Store)(nil)
	_ store.ScheduleStore  = (*Store)(nil)
	_ store.ScriptStore    = (*Store)(nil)
	_ store.UsageStore     = (*Store)(nil)
)

// New connects to PostgreSQL, verifies the connection and runs migrations.
func New(ctx context.Context, databaseURL string, log *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an existing connection pool. Migrations are not run.
func NewWithDB(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: logger.OrNop(log), now: time.Now}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a unit of work whose queue side effects go to notifier.
func (s *Store) Begin(ctx context.Context, notifier txqueue.Notifier) (*txqueue.Tx, error) {
	return txqueue.Begin(ctx, s.db, notifier, s.log)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}
