package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hivelang/internal/compiler"
	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/runtime"
	"github.com/roach88/hivelang/internal/store"
)

// memorySource is an in-memory SourceStore that counts fetches. A non-nil
// gate holds every fetch until it is closed or the fetch context ends.
type memorySource struct {
	mu      sync.Mutex
	sources map[string]string
	calls   atomic.Int32
	gate    chan struct{}
}

func newMemorySource(kv ...string) *memorySource {
	m := &memorySource{sources: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		m.sources[kv[i]] = kv[i+1]
	}
	return m
}

func (m *memorySource) set(id, src string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[id] = src
}

func (m *memorySource) GetIntegration(ctx context.Context, id string) (ir.Integration, error) {
	m.calls.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ir.Integration{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return ir.Integration{}, fmt.Errorf("integration %s: %w", id, store.ErrNotFound)
	}
	return ir.Integration{ID: id, Name: id, Slug: id, Source: src}, nil
}

const echoSource = "@capability echo(msg)\nreturn msg\n"

func userContext(apiKey string) ir.ExecutionContext {
	return ir.ExecutionContext{User: map[string]any{"api_key": apiKey}}
}

func invoke(s *Service, id, capability string, args ...any) Result {
	return s.Invoke(context.Background(), InvocationRequest{
		IntegrationID: id,
		Capability:    capability,
		Arguments:     args,
	}, userContext("k"))
}

func TestInvoke_LoadsOnMissThenHits(t *testing.T) {
	src := newMemorySource("int-1", echoSource)
	s := New(src)

	res := invoke(s, "int-1", "echo", "hello")
	assert.Equal(t, Result{Success: true, Value: "hello"}, res)

	res = invoke(s, "int-1", "echo", "again")
	assert.Equal(t, Result{Success: true, Value: "again"}, res)

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, runtime.CacheStats{Hits: 1, Misses: 2}, s.Cache().Stats(),
		"the singleflight re-check counts as a second miss")
}

func TestInvoke_Failures(t *testing.T) {
	src := newMemorySource(
		"echo", echoSource,
		"broken", "@capability a()\nreturn (\n",
		"raises", "@capability fail(code)\nerror(f\"upstream said {code}\")\n",
	)
	s := New(src)

	tests := []struct {
		name       string
		id         string
		capability string
		kind       ir.ErrorKind
		message    string
	}{
		{"unknown integration", "nope", "echo", ir.KindIntegration, `integration "nope" not found`},
		{"unknown capability", "echo", "missing", ir.KindNotFound, `capability "missing" not found`},
		{"compile error", "broken", "a", ir.KindCompile, "capability a"},
		{"capability error", "raises", "fail", ir.KindCapability, "upstream said 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(s, tt.id, tt.capability, 503)
			assert.False(t, res.Success)
			assert.Nil(t, res.Value)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Contains(t, res.Message, tt.message)
		})
	}
}

func TestLoadSource(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	res, err := s.LoadSource(ctx, "int-1", "@capability a()\nreturn 1\n@capability b()\nreturn 2\n")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"a", "b"}, res.CompiledCapabilityNames)

	res, err = s.LoadSource(ctx, "int-1", "@capability a()\nreturn (\n")
	require.Error(t, err)
	assert.True(t, compiler.IsCompileError(err))
	assert.False(t, res.Success)
	assert.Equal(t, ir.KindCompile, res.ErrorKind)
	assert.Empty(t, res.CompiledCapabilityNames)

	// The rejected load left the previous program serving.
	assert.Equal(t, Result{Success: true, Value: float64(2)}, invoke(s, "int-1", "b"))

	res, err = s.LoadSource(ctx, "int-1", "@capability a()\nreturn 1\n@capability a()\nreturn 3\n")
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, Result{Success: true, Value: float64(3)}, invoke(s, "int-1", "a"))
	assert.Equal(t, ir.KindNotFound, invoke(s, "int-1", "b").ErrorKind)
}

func TestLoadSource_StrictDuplicates(t *testing.T) {
	s := New(nil, WithRuntimeOptions(runtime.WithCompilerOptions(compiler.WithStrictDuplicates(true))))

	res, err := s.LoadSource(context.Background(), "int-1", "@capability a()\nreturn 1\n@capability a()\nreturn 3\n")
	require.Error(t, err)
	assert.Equal(t, ir.KindCompile, res.ErrorKind)
}

func TestEvict_ReloadsUpdatedSource(t *testing.T) {
	src := newMemorySource("int-1", "@capability v()\nreturn 1\n")
	s := New(src)

	assert.Equal(t, float64(1), invoke(s, "int-1", "v").Value)

	src.set("int-1", "@capability v()\nreturn 2\n")
	assert.Equal(t, float64(1), invoke(s, "int-1", "v").Value, "cached until evicted")

	assert.True(t, s.Evict("int-1"))
	assert.False(t, s.Evict("int-1"))
	assert.Equal(t, float64(2), invoke(s, "int-1", "v").Value)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestInvoke_ConcurrentMissesShareOneLoad(t *testing.T) {
	src := newMemorySource("int-1", echoSource)
	src.gate = make(chan struct{})
	s := New(src)

	const n = 16
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = invoke(s, "int-1", "echo", i)
		}(i)
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i, res := range results {
		assert.Equal(t, Result{Success: true, Value: float64(i)}, res)
	}
}

// TestLoadSource_SupersedesInFlightMissLoad tests that a miss load which
// fetched source before an explicit load does not overwrite the newer
// runtime.
func TestLoadSource_SupersedesInFlightMissLoad(t *testing.T) {
	src := newMemorySource("int-1", "@capability v()\nreturn \"old\"\n")
	src.gate = make(chan struct{})
	s := New(src)

	done := make(chan Result, 1)
	go func() { done <- invoke(s, "int-1", "v") }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.LoadSource(context.Background(), "int-1", "@capability v()\nreturn \"new\"\n")
	require.NoError(t, err)
	close(src.gate)

	assert.Equal(t, Result{Success: true, Value: "new"}, <-done, "waiters get the current runtime")
	assert.Equal(t, Result{Success: true, Value: "new"}, invoke(s, "int-1", "v"))
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestEvict_DiscardsInFlightMissLoad(t *testing.T) {
	src := newMemorySource("int-1", "@capability v()\nreturn \"old\"\n")
	src.gate = make(chan struct{})
	s := New(src)

	done := make(chan Result, 1)
	go func() { done <- invoke(s, "int-1", "v") }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	src.set("int-1", "@capability v()\nreturn \"new\"\n")
	s.Evict("int-1")
	close(src.gate)
	<-done

	assert.Equal(t, 0, s.Cache().Len(), "the superseded load is not cached")
	assert.Equal(t, Result{Success: true, Value: "new"}, invoke(s, "int-1", "v"))
	assert.Equal(t, int32(2), src.calls.Load())
}

// TestInvoke_CallerCancellationDoesNotFailSharedLoad tests that a caller
// abandoning a shared miss load neither fails the other waiters nor
// cancels the fetch.
func TestInvoke_CallerCancellationDoesNotFailSharedLoad(t *testing.T) {
	src := newMemorySource("int-1", echoSource)
	src.gate = make(chan struct{})
	s := New(src)
	req := InvocationRequest{IntegrationID: "int-1", Capability: "echo", Arguments: []any{"hi"}}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan Result, 1)
	go func() { first <- s.Invoke(ctx, req, userContext("k")) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() { second <- s.Invoke(context.Background(), req, userContext("k")) }()
	require.Eventually(t, func() bool { return s.Cache().Stats().Misses >= 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	abandoned := <-first
	assert.False(t, abandoned.Success)
	assert.Contains(t, abandoned.Message, context.Canceled.Error())

	close(src.gate)
	assert.Equal(t, Result{Success: true, Value: "hi"}, <-second)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestInvoke_LoadTimeout(t *testing.T) {
	src := newMemorySource("int-1", echoSource)
	src.gate = make(chan struct{})
	s := New(src, WithLoadTimeout(20*time.Millisecond))

	res := invoke(s, "int-1", "echo", "hi")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "fetch integration int-1")
	assert.Contains(t, res.Message, context.DeadlineExceeded.Error())
}

func TestInvoke_LogsInfrastructureFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := New(newMemorySource("int-1",
		"@capability plain()\nreturn get(\"http://api.example.com/x\")\n@capability refuse()\nerror(\"no\")\n",
	), WithLogger(logger))

	assert.Equal(t, ir.KindTransportPolicy, invoke(s, "int-1", "plain").ErrorKind)
	assert.Equal(t, ir.KindCapability, invoke(s, "int-1", "refuse").ErrorKind)

	infra := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry struct {
			Msg            string `json:"msg"`
			Capability     string `json:"capability"`
			Infrastructure bool   `json:"infrastructure"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Msg == "invocation failed" {
			infra[entry.Capability] = entry.Infrastructure
		}
	}
	assert.Equal(t, map[string]bool{"plain": true, "refuse": false}, infra)
}

func TestInvoke_CredentialIsolation(t *testing.T) {
	s := New(newMemorySource("int-1", "@capability whoami()\nreturn user.api_key\n"))

	const n = 64
	var wg sync.WaitGroup
	mismatches := atomic.Int32{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			res := s.Invoke(context.Background(), InvocationRequest{IntegrationID: "int-1", Capability: "whoami"}, userContext(key))
			if !res.Success || res.Value != key {
				mismatches.Add(1)
			}
		}(fmt.Sprintf("key-%d", i))
	}
	wg.Wait()
	assert.Zero(t, mismatches.Load())
}

func TestInvoke_FillsIntegrationID(t *testing.T) {
	s := New(newMemorySource("int-7", "@capability which()\nreturn integration.id\n"))
	assert.Equal(t, "int-7", invoke(s, "int-7", "which").Value)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRegisterAndRecord(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := 0
	s := New(st,
		WithRecorder(st),
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("inv-%d", ids) }),
	)

	_, err := s.Register(ctx, ir.Integration{ID: "int-1", Name: "Bad", Slug: "bad", Source: "@capability a()\nreturn (\n"})
	require.Error(t, err)
	_, err = st.GetIntegration(ctx, "int-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected source is not saved")

	res, err := s.Register(ctx, ir.Integration{ID: "int-1", Name: "Echo", Slug: "echo", Source: echoSource})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, res.CompiledCapabilityNames)

	saved, err := st.GetIntegration(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, echoSource, saved.Source)

	assert.True(t, invoke(s, "int-1", "echo", "hi").Success)
	assert.Equal(t, ir.KindNotFound, invoke(s, "int-1", "nope").ErrorKind)

	recs, err := st.ListInvocations(ctx, "int-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	argsHash, err := ir.ArgsHash([]any{"hi"})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", recs[1].ID)
	assert.True(t, recs[1].Success)
	assert.Equal(t, argsHash, recs[1].ArgsHash)
	assert.Equal(t, ir.ProgramHash(echoSource), recs[1].ProgramHash)
	assert.True(t, recs[1].CreatedAt.Equal(clock))

	assert.Equal(t, "inv-2", recs[0].ID)
	assert.False(t, recs[0].Success)
	assert.Equal(t, ir.KindNotFound, recs[0].ErrorKind)
}

func TestRecord_NeverStoresCredentials(t *testing.T) {
	st := openStore(t)
	s := New(newMemorySource("int-1", "@capability boom()\nerror(\"denied\")\n"), WithRecorder(st))

	res := s.Invoke(context.Background(), InvocationRequest{IntegrationID: "int-1", Capability: "boom"}, userContext("sk-live-secret"))
	require.False(t, res.Success)

	var count int
	err := st.DB().QueryRow(`SELECT COUNT(*) FROM invocations WHERE message LIKE '%sk-live%' OR args_hash LIKE '%sk-live%'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCapabilities(t *testing.T) {
	s := New(newMemorySource("int-1", "@capability a()\nreturn 1\n@capability b(x)\nreturn x\n"))

	names, err := s.Capabilities(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	_, err = s.Capabilities(context.Background(), "missing")
	assert.True(t, IsIntegrationNotFoundError(err))
}
