package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_SourceFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/list_repos.yaml")
	require.NoError(t, err)

	assert.Equal(t, "list_repos", s.Name)
	assert.Equal(t, "github.hive", s.SourceFile)
	assert.Contains(t, s.Source, "@capability list_repos(owner)")
	require.Len(t, s.HTTP, 2)
	assert.Equal(t, 404, s.HTTP[1].Status)
	require.Len(t, s.Steps, 2)
	require.NotNil(t, s.Steps[1].Expect)
	assert.Equal(t, "capability_error", s.Steps[1].Expect.ErrorKind)
	assert.Len(t, s.Assertions, 4)

	ec := s.Context.ExecutionContext()
	assert.Equal(t, "tok-123", ec.User["api_key"])
	assert.Equal(t, "github", ec.Integration.ID)
}

func TestLoadScenario_MissingSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	data := "name: x\ndescription: x\nsource_file: nope.hive\nsteps:\n  - invoke: a\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source file")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/does-not-exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: x\nsource: s\nsteps: [{invoke: a}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsource: s\nsteps: [{invoke: a}]\n",
			want: "description is required",
		},
		{
			name: "both sources",
			yaml: "name: x\ndescription: x\nsource: s\nsource_file: f\nsteps: [{invoke: a}]\n",
			want: "exactly one of source or source_file",
		},
		{
			name: "no source",
			yaml: "name: x\ndescription: x\nsteps: [{invoke: a}]\n",
			want: "exactly one of source or source_file",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: x\nsource: s\n",
			want: "steps list is required",
		},
		{
			name: "step without invoke",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{args: [1]}]\n",
			want: "steps[0]: invoke is required",
		},
		{
			name: "contradictory expect",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a, expect: {success: true, error_kind: timeout}}]\n",
			want: "error fields set on an expected success",
		},
		{
			name: "http without url",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nhttp: [{method: GET}]\n",
			want: "http[0]: url is required",
		},
		{
			name: "http bad method",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nhttp: [{method: TRACE, url: https://x}]\n",
			want: "unsupported method",
		},
		{
			name: "http bad status",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nhttp: [{url: https://x, status: 42}]\n",
			want: "status 42 out of range",
		},
		{
			name: "assertion without type",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nassertions: [{url: https://x}]\n",
			want: "type is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nassertions: [{type: sql_ran}]\n",
			want: "unknown assertion type",
		},
		{
			name: "header_sent without header",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nassertions: [{type: header_sent, url: https://x}]\n",
			want: "url and header are required",
		},
		{
			name: "trace_order without events",
			yaml: "name: x\ndescription: x\nsource: s\nsteps: [{invoke: a}]\nassertions: [{type: trace_order}]\n",
			want: "events list is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_ExpectLoadErrorNeedsNoSteps(t *testing.T) {
	s, err := ParseScenario([]byte("name: x\ndescription: x\nsource: s\nexpect_load_error: boom\n"))
	require.NoError(t, err)
	assert.Empty(t, s.Steps)
	assert.Equal(t, "boom", s.ExpectLoadError)
}

func TestContextSpec_ExecutionContextCopiesUser(t *testing.T) {
	spec := ContextSpec{User: map[string]any{"api_key": "k", "n": 1}}
	ec := spec.ExecutionContext()
	ec.User["api_key"] = "changed"

	assert.Equal(t, "k", spec.User["api_key"])
	assert.Equal(t, float64(1), ec.User["n"])
}
