package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/hivelang/internal/ir"
)

// DefaultInvocationLimit caps ListInvocations when no limit is given.
const DefaultInvocationLimit = 100

// GetIntegration returns the integration with the given ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetIntegration(ctx context.Context, id string) (ir.Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, source, updated_at
		FROM integrations
		WHERE id = ?
	`, id)

	integ, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Integration{}, fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Integration{}, fmt.Errorf("get integration %s: %w", id, err)
	}
	return integ, nil
}

// GetIntegrationBySlug returns the integration with the given slug.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetIntegrationBySlug(ctx context.Context, slug string) (ir.Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, source, updated_at
		FROM integrations
		WHERE slug = ?
	`, slug)

	integ, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Integration{}, fmt.Errorf("integration slug %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return ir.Integration{}, fmt.Errorf("get integration slug %s: %w", slug, err)
	}
	return integ, nil
}

// ListIntegrations returns every integration ordered by ID.
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListIntegrations(ctx context.Context) ([]ir.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, source, updated_at
		FROM integrations
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query integrations: %w", err)
	}
	defer rows.Close()

	integrations := []ir.Integration{}
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		integrations = append(integrations, integ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrations: %w", err)
	}
	return integrations, nil
}

// ListInvocations returns the most recent invocation records for an
// integration, newest first. A non-positive limit selects
// DefaultInvocationLimit.
func (s *Store) ListInvocations(ctx context.Context, integrationID string, limit int) ([]ir.InvocationRecord, error) {
	if limit <= 0 {
		limit = DefaultInvocationLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, integration_id, capability, args_hash, program_hash, success, error_kind, message, duration_ms, created_at
		FROM invocations
		WHERE integration_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	records := []ir.InvocationRecord{}
	for rows.Next() {
		rec, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return records, nil
}

// FailureCounts returns the number of failed invocations per error kind
// for an integration.
func (s *Store) FailureCounts(ctx context.Context, integrationID string) (map[ir.ErrorKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT error_kind, COUNT(*)
		FROM invocations
		WHERE integration_id = ? AND success = 0
		GROUP BY error_kind
	`, integrationID)
	if err != nil {
		return nil, fmt.Errorf("query failure counts: %w", err)
	}
	defer rows.Close()

	counts := map[ir.ErrorKind]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		counts[ir.ErrorKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure counts: %w", err)
	}
	return counts, nil
}
