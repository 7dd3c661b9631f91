package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv is a config file pointing at a fresh database.
type testEnv struct {
	config string
	db     string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		config: filepath.Join(dir, "hive.yaml"),
		db:     filepath.Join(dir, "hive.db"),
	}
	data := "database: " + env.db + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(env.config, []byte(data), 0o644))
	return env
}

// run executes the root command with args and returns stdout.
func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runJSON executes the root command with --format json and decodes the
// response envelope.
func (e testEnv) runJSON(t *testing.T, args ...string) (CLIResponse, error) {
	t.Helper()
	out, err := e.run(t, append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp, err
}

// dataAs re-decodes a response payload into v.
func dataAs(t *testing.T, resp CLIResponse, v any) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
