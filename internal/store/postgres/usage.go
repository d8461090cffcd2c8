package postgres

import (
	"context"
	"database/sql"

	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
)

// IsPremiumWorkspace reports whether usage in workspaceID is billed to the workspace.
func (s *Store) IsPremiumWorkspace(ctx context.Context, workspaceID string) (bool, error) {
	var premium bool
	err := s.db.QueryRowContext(ctx, `SELECT premium FROM workspace WHERE id = $1`, workspaceID).Scan(&premium)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrapf(store.ErrNotFound, "workspace %s", workspaceID)
	}
	if err != nil {
		return false, errors.Wrapf(err, "get workspace %s", workspaceID)
	}
	return premium, nil
}

// RecordUsage adds units to the counter of (key, isWorkspace, month).
func (s *Store) RecordUsage(ctx context.Context, key string, isWorkspace bool, month int, units int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (id, is_workspace, month_, usage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, is_workspace, month_) DO UPDATE SET usage = usage.usage + EXCLUDED.usage
	`, key, isWorkspace, month, units)
	if err != nil {
		return errors.Wrapf(err, "record usage for %s", key)
	}
	return nil
}
