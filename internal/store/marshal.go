package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/hivelang/internal/ir"
)

// Timestamps are stored as RFC 3339 text in UTC so that they sort
// lexically and survive a round trip through SQLite unchanged.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row scanner) (ir.Integration, error) {
	var (
		integ     ir.Integration
		updatedAt string
	)
	if err := row.Scan(&integ.ID, &integ.Name, &integ.Slug, &integ.Source, &updatedAt); err != nil {
		return ir.Integration{}, err
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return ir.Integration{}, err
	}
	integ.UpdatedAt = t
	return integ, nil
}

func scanInvocation(row scanner) (ir.InvocationRecord, error) {
	var (
		rec       ir.InvocationRecord
		success   int
		kind      string
		createdAt string
	)
	err := row.Scan(
		&rec.ID,
		&rec.IntegrationID,
		&rec.Capability,
		&rec.ArgsHash,
		&rec.ProgramHash,
		&success,
		&kind,
		&rec.Message,
		&rec.DurationMs,
		&createdAt,
	)
	if err != nil {
		return ir.InvocationRecord{}, fmt.Errorf("scan invocation: %w", err)
	}
	rec.Success = success != 0
	rec.ErrorKind = ir.ErrorKind(kind)
	t, err := parseTime(createdAt)
	if err != nil {
		return ir.InvocationRecord{}, err
	}
	rec.CreatedAt = t
	return rec, nil
}

var _ scanner = (*sql.Row)(nil)
