package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "broken.yaml"),
		filepath.Join("testdata", "scenarios", "isolation.yaml"),
		filepath.Join("testdata", "scenarios", "list_repos.yaml"),
		filepath.Join("testdata", "scenarios", "whoami.yaml"),
	}, files)
}

func TestRunDir_AllPass(t *testing.T) {
	results, err := RunDir(context.Background(), "testdata/scenarios", 2)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Passed(), "%s: err=%v result=%+v", r.Path, r.Err, r.Result)
	}
	assert.Equal(t, "broken", results[0].Scenario)
	assert.Equal(t, "whoami", results[3].Scenario)
}

func TestRunDir_ReportsPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	write("a.yaml", "name: a\ndescription: a\nsource: \"@capability a()\\nreturn 1\\n\"\nsteps: [{invoke: a, expect: {value: 1}}]\n")
	write("b.yml", "name: b\ndescription: b\nsource: \"@capability b()\\nreturn 1\\n\"\nsteps: [{invoke: b, expect: {value: 2}}]\n")
	write("c.yaml", "not: [valid\n")
	write("notes.txt", "ignored")

	results, err := RunDir(context.Background(), dir, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Passed())
	assert.False(t, results[1].Passed())
	assert.Nil(t, results[1].Err)
	assert.NotEmpty(t, results[1].Result.Errors)
	assert.False(t, results[2].Passed())
	assert.Error(t, results[2].Err)
}

func TestRunDir_MissingDir(t *testing.T) {
	_, err := RunDir(context.Background(), filepath.Join(t.TempDir(), "missing"), 1)
	assert.Error(t, err)
}

func TestRunFiles_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := RunFiles(ctx, []string{"testdata/scenarios/whoami.yaml"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed())
}
