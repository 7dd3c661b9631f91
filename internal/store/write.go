package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/hivelang/internal/ir"
)

// PutIntegration inserts or replaces an integration's source.
// A zero UpdatedAt is stamped with the current time. The slug must be
// unique across integrations; a clash with another ID is an error.
func (s *Store) PutIntegration(ctx context.Context, integ ir.Integration) error {
	if integ.ID == "" {
		return fmt.Errorf("put integration: empty id")
	}
	if integ.UpdatedAt.IsZero() {
		integ.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, name, slug, source, source_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			source = excluded.source,
			source_hash = excluded.source_hash,
			updated_at = excluded.updated_at
	`,
		integ.ID,
		integ.Name,
		integ.Slug,
		integ.Source,
		ir.ProgramHash(integ.Source),
		formatTime(integ.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put integration %s: %w", integ.ID, err)
	}
	return nil
}

// DeleteIntegration removes an integration. Its invocation log is kept.
// Returns ErrNotFound if no integration has the given ID.
func (s *Store) DeleteIntegration(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete integration %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete integration %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete integration %s: %w", id, ErrNotFound)
	}
	return nil
}

// WriteInvocation appends an invocation record to the log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
// Other constraint violations (e.g., NOT NULL) will still return errors.
func (s *Store) WriteInvocation(ctx context.Context, rec ir.InvocationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations
		(id, integration_id, capability, args_hash, program_hash, success, error_kind, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.IntegrationID,
		rec.Capability,
		rec.ArgsHash,
		rec.ProgramHash,
		boolToInt(rec.Success),
		string(rec.ErrorKind),
		rec.Message,
		rec.DurationMs,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}
	return nil
}
