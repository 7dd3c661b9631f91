package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/hivelang/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

// createTestIntegration creates a test integration with minimal required fields.
func createTestIntegration(id, slug string) ir.Integration {
	return ir.Integration{
		ID:        id,
		Name:      "Integration " + id,
		Slug:      slug,
		Source:    "@capability echo(msg)\nreturn msg\n",
		UpdatedAt: testEpoch,
	}
}

// createTestInvocation creates a test invocation record with minimal required fields.
func createTestInvocation(id, integrationID string, success bool) ir.InvocationRecord {
	rec := ir.InvocationRecord{
		ID:            id,
		IntegrationID: integrationID,
		Capability:    "echo",
		ArgsHash:      "args-hash",
		ProgramHash:   "program-hash",
		Success:       success,
		DurationMs:    7,
		CreatedAt:     testEpoch,
	}
	if !success {
		rec.ErrorKind = ir.KindExecution
		rec.Message = "boom"
	}
	return rec
}
