package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hivelang/internal/config"
	"github.com/roach88/hivelang/internal/metrics"
	"github.com/roach88/hivelang/internal/service"
	"github.com/roach88/hivelang/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := &RootOptions{Config: config.DefaultConfig(), Logger: logger}
	m := metrics.New(false)
	srv := httptest.NewServer(newServerHandler(opts.newService(st, m), m, logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestServer_RegisterAndInvoke(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, http.MethodPut, srv.URL+"/v1/integrations/echo", map[string]any{
		"name":   "Echo",
		"slug":   "echo",
		"source": "@capability echo(msg)\nreturn msg\n\n@capability whoami()\nreturn user.api_key\n",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	var load service.LoadResult
	require.NoError(t, json.Unmarshal(body, &load))
	assert.True(t, load.Success)
	assert.Equal(t, []string{"echo", "whoami"}, load.CompiledCapabilityNames)

	status, body = do(t, http.MethodPost, srv.URL+"/v1/invoke", map[string]any{
		"integration_id": "echo",
		"capability":     "whoami",
		"arguments":      []any{},
		"context":        map[string]any{"user": map[string]any{"api_key": "alice"}},
	})
	require.Equal(t, http.StatusOK, status)
	var res service.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, service.Result{Success: true, Value: "alice"}, res)

	status, body = do(t, http.MethodGet, srv.URL+"/v1/integrations/echo/capabilities", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"echo","capabilities":["echo","whoami"]}`, string(body))
}

func TestServer_InvokeFailureIsAResult(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, http.MethodPost, srv.URL+"/v1/invoke", map[string]any{
		"integration_id": "missing",
		"capability":     "x",
	})
	require.Equal(t, http.StatusOK, status)
	var res service.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.Success)
	assert.Equal(t, "integration_not_found", string(res.ErrorKind))
}

func TestServer_RejectedSource(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, http.MethodPut, srv.URL+"/v1/integrations/bad", map[string]any{
		"name": "Bad", "slug": "bad", "source": "@capability a()\nreturn (\n",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	var load service.LoadResult
	require.NoError(t, json.Unmarshal(body, &load))
	assert.False(t, load.Success)
	assert.Equal(t, "compile_error", string(load.ErrorKind))

	status, _ = do(t, http.MethodGet, srv.URL+"/v1/integrations/bad/capabilities", nil)
	assert.Equal(t, http.StatusNotFound, status, "rejected source is not stored")
}

func TestServer_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, http.MethodPost, srv.URL+"/v1/invoke", map[string]any{"capability": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, srv.URL+"/v1/invoke", map[string]any{"integration_id": "a", "capability": "x", "tenant": "t"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPut, srv.URL+"/v1/integrations/x", map[string]any{"name": "X"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodGet, srv.URL+"/v1/invoke", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"service":"hive","status":"ok"}`, string(body))

	do(t, http.MethodPost, srv.URL+"/v1/invoke", map[string]any{"integration_id": "missing", "capability": "x"})
	status, body = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "hive_")
}
