package postgres

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"flowplane/internal/txqueue"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 10, 10, 7, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewWithDB(db, nil)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

// beginTx opens a unit of work on the mock; the caller must set its own
// ExpectCommit or ExpectRollback.
func beginTx(t *testing.T, s *Store, mock sqlmock.Sqlmock) *txqueue.Tx {
	mock.ExpectBegin()
	tx, err := s.Begin(context.Background(), nil)
	require.NoError(t, err)
	return tx
}

func columns(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func rowValues(values ...driver.Value) []driver.Value {
	return values
}
