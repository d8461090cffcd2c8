package postgres

import (
	"context"
	"database/sql"
	"strings"

	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
)

// ResolvePayload resolves "script/<path>" to the latest non-archived version of the
// script, and "flow/<path>" to the flow itself.
func (s *Store) ResolvePayload(ctx context.Context, tx store.DBTransaction, workspaceID, prefixedPath string) (store.JobPayload, *string, error) {
	executor := s.getExecutor(tx)

	if path, ok := strings.CutPrefix(prefixedPath, "script/"); ok {
		var (
			hash int64
			tag  sql.NullString
		)
		err := executor.QueryRowContext(ctx, `
			SELECT hash, tag FROM script
			WHERE workspace_id = $1 AND path = $2 AND archived = false
			ORDER BY created_at DESC
			LIMIT 1
		`, workspaceID, path).Scan(&hash, &tag)
		if errors.Is(err, sql.ErrNoRows) {
			return store.JobPayload{}, nil, errors.Wrapf(store.ErrNotFound, "script %s/%s", workspaceID, path)
		}
		if err != nil {
			return store.JobPayload{}, nil, errors.Wrapf(err, "resolve script %s", path)
		}

		payload := store.JobPayload{Kind: store.JobKindScript, Path: path, ScriptHash: &hash}
		if tag.Valid && tag.String != "" {
			return payload, &tag.String, nil
		}
		return payload, nil, nil
	}

	if path, ok := strings.CutPrefix(prefixedPath, "flow/"); ok {
		var exists bool
		err := executor.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM flow WHERE workspace_id = $1 AND path = $2 AND archived = false)`,
			workspaceID, path,
		).Scan(&exists)
		if err != nil {
			return store.JobPayload{}, nil, errors.Wrapf(err, "resolve flow %s", path)
		}
		if !exists {
			return store.JobPayload{}, nil, errors.Wrapf(store.ErrNotFound, "flow %s/%s", workspaceID, path)
		}
		return store.JobPayload{Kind: store.JobKindFlow, Path: path}, nil, nil
	}

	return store.JobPayload{}, nil, errors.WithDetailf(
		errors.Wrapf(store.ErrInvalidPath, "%q", prefixedPath),
		"expected a script/ or flow/ prefix",
	)
}

// ScriptContent returns the source and language of one script version.
func (s *Store) ScriptContent(ctx context.Context, workspaceID string, hash int64) (string, string, error) {
	var (
		content  string
		language sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, language FROM script WHERE workspace_id = $1 AND hash = $2`,
		workspaceID, hash,
	).Scan(&content, &language)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", errors.Wrapf(store.ErrNotFound, "script %s/%d", workspaceID, hash)
	}
	if err != nil {
		return "", "", errors.Wrapf(err, "load script %d", hash)
	}
	return content, language.String, nil
}
