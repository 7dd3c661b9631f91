package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir(t *testing.T) {
	m, errs := LoadDir(filepath.Join("testdata", "github"), LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.FileCount)
	require.Len(t, m.Integrations, 2)

	echo := m.Integrations[0]
	assert.Equal(t, "echo", echo.ID)
	assert.Equal(t, "Echo", echo.Name)
	assert.Equal(t, "echo-v2", echo.Slug)
	assert.Contains(t, echo.Source, "@capability echo(msg)\nreturn msg")

	gh := m.Integrations[1]
	assert.Equal(t, "github", gh.ID)
	assert.Equal(t, "github", gh.Slug, "slug defaults to the id")
	want, err := os.ReadFile(filepath.Join("testdata", "github", "github.hive"))
	require.NoError(t, err)
	assert.Equal(t, string(want), gh.Source)
}

func TestLoadDir_Errors(t *testing.T) {
	_, errs := LoadDir(filepath.Join(t.TempDir(), "absent"), LoadModeFailFast)
	requireCode(t, errs, ErrCodeNotFound)

	_, errs = LoadDir(t.TempDir(), LoadModeFailFast)
	requireCode(t, errs, ErrCodeNoFiles)

	file := filepath.Join(t.TempDir(), "x.cue")
	require.NoError(t, os.WriteFile(file, []byte("integration: {}\n"), 0o644))
	_, errs = LoadDir(file, LoadModeFailFast)
	requireCode(t, errs, ErrCodeNotFound)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"syntax", "integration: {", ErrCodeBuildFailed},
		{"missing name", `integration: a: source: "x"`, ErrCodeBuildFailed},
		{"unknown field", `integration: a: {name: "A", source: "x", nme: "typo"}`, ErrCodeBuildFailed},
		{"bad slug", `integration: a: {name: "A", slug: "Not A Slug", source: "x"}`, ErrCodeBuildFailed},
		{"no source", `integration: a: name: "A"`, ErrCodeSource},
		{"both sources", `integration: a: {name: "A", source: "x", source_file: "a.hive"}`, ErrCodeSource},
		{"missing file", `integration: a: {name: "A", source_file: "missing.hive"}`, ErrCodeSourceFile},
		{"duplicate slug", `integration: a: {name: "A", slug: "s", source: "x"}
integration: b: {name: "B", slug: "s", source: "y"}`, ErrCodeDuplicateSlug},
		{"empty", `other: 1`, ErrCodeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "m.cue")
			_, errs := Parse(path, []byte(tt.src), LoadModeFailFast)
			requireCode(t, errs, tt.code)
		})
	}
}

func TestParse_PositionInError(t *testing.T) {
	src := "integration: a: {\n\tname: \"A\"\n\tsource_file: \"missing.hive\"\n}\n"
	_, errs := Parse(filepath.Join(t.TempDir(), "m.cue"), []byte(src), LoadModeFailFast)
	require.Len(t, errs, 1)

	var merr *Error
	require.True(t, errors.As(errs[0], &merr))
	require.True(t, merr.Pos.IsValid())
	assert.Equal(t, 3, merr.Pos.Line())
	assert.Contains(t, merr.Error(), "m.cue:3:")
}

func TestParse_CollectAll(t *testing.T) {
	src := `
integration: a: name: "A"
integration: b: {name: "B", source_file: "missing.hive"}
integration: c: {name: "C", source: "@capability c()\nreturn 1\n"}
`
	m, errs := Parse(filepath.Join(t.TempDir(), "m.cue"), []byte(src), LoadModeCollectAll)
	require.Len(t, errs, 2)
	require.NotNil(t, m)
	require.Len(t, m.Integrations, 1)
	assert.Equal(t, "c", m.Integrations[0].ID)
}

func requireCode(t *testing.T, errs []error, code string) {
	t.Helper()
	require.NotEmpty(t, errs)
	var merr *Error
	require.True(t, errors.As(errs[0], &merr), "got %v", errs[0])
	assert.Equal(t, code, merr.Code, "error: %v", merr)
}
