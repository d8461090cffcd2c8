// Package txqueue provides the unit of work used by the completion engine: one SQL
// transaction plus the message-queue side effects that must travel with it.
package txqueue

import (
	"context"
	"database/sql"

	"flowplane/internal/logger"
	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTxDone is returned when committing a unit of work that already finished.
var ErrTxDone = errors.New("txqueue: transaction already committed or rolled back")

// OpKind is the kind of a staged queue operation.
type OpKind int

const (
	// OpPush publishes a newly pushed job.
	OpPush OpKind = iota
	// OpDelete acknowledges a job that left the pending store.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPush:
		return "push"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a queue operation staged inside a unit of work.
type Op struct {
	Kind  OpKind
	Tag   string
	JobID uuid.UUID
}

// Notifier applies staged queue operations. Implementations should apply a batch
// atomically where the broker allows it.
type Notifier interface {
	Flush(ctx context.Context, ops []Op) error
}

// Tx couples a SQL transaction with an optional Notifier.
// It is not safe for concurrent use.
type Tx struct {
	tx       *sql.Tx
	notifier Notifier
	log      *zap.SugaredLogger

	ops   []Op
	hooks []func(ctx context.Context)
	done  bool
}

var _ store.QueueTx = (*Tx)(nil)

// Begin starts a unit of work. A nil notifier disables the message-queue side.
func Begin(ctx context.Context, db *sql.DB, notifier Notifier, log *zap.SugaredLogger) (*Tx, error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return &Tx{tx: sqlTx, notifier: notifier, log: logger.OrNop(log)}, nil
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// NotifyPushed stages a publish of jobID on the queue for tag.
func (t *Tx) NotifyPushed(tag string, jobID uuid.UUID) {
	t.ops = append(t.ops, Op{Kind: OpPush, Tag: tag, JobID: jobID})
}

// NotifyDeleted stages the removal of jobID from the queue for tag.
func (t *Tx) NotifyDeleted(tag string, jobID uuid.UUID) {
	t.ops = append(t.ops, Op{Kind: OpDelete, Tag: tag, JobID: jobID})
}

// AfterCommit registers fn to run after a successful commit, in registration order.
func (t *Tx) AfterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// Staged returns a copy of the queue operations staged so far.
func (t *Tx) Staged() []Op {
	return append([]Op(nil), t.ops...)
}

// Commit flushes the staged queue operations and then commits the SQL transaction.
// If the flush fails the SQL side is rolled back and nothing is persisted.
// A crash between the flush and the SQL commit leaves queue entries without rows;
// consumers treat those as stale and drop them.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	if t.notifier != nil && len(t.ops) > 0 {
		if err := t.notifier.Flush(ctx, t.ops); err != nil {
			if rbErr := t.tx.Rollback(); rbErr != nil {
				err = errors.WithSecondaryError(err, rbErr)
			}
			t.ops = nil
			return errors.Wrap(err, "flush queue operations")
		}
	}
	t.ops = nil

	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}

	for _, fn := range t.hooks {
		fn(ctx)
	}
	t.hooks = nil
	return nil
}

// Rollback aborts the unit of work and discards staged operations.
// It is a no-op after Commit or a previous Rollback, so it can always be deferred.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	t.hooks = nil

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.log.Warnw("Rollback failed", "error", err)
		return errors.Wrap(err, "rollback transaction")
	}
	return nil
}
