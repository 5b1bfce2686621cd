//go:build integration
// +build integration

// Integration tests that drive a real diag HTTP server end to end
// (httptest.NewRequest + server.ServeHTTP) against a live scheduler, so
// no external service is required; the build tag keeps these end-to-end
// tests out of the default `go test ./...` run.
package diag_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	goruntime "runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/coprocrt/internal/config"
	"github.com/maumercado/coprocrt/internal/diag"
	"github.com/maumercado/coprocrt/internal/diag/wsstream"
	"github.com/maumercado/coprocrt/internal/handlers"
	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/scheduler"
	"github.com/maumercado/coprocrt/internal/task"
)

// testHarness wires a live scheduler on its own goroutine to a diag
// server: build a full server, drive it with httptest, no Redis
// dependency.
type testHarness struct {
	server *diag.Server
	sched  *scheduler.Scheduler
	root   *task.Task
	done   chan error
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	re, err := reactor.New()
	require.NoError(t, err)

	sched := scheduler.New(re)
	reg := diag.NewRegistry()
	hub := wsstream.NewHub()
	sched.SetTraceHooks(diag.Hooks(reg, hub))

	handlerReg := diag.NewHandlerRegistry()
	handlerReg.Register("echo", diag.Handler(handlers.Echo))
	handlerReg.Register("sleep", diag.Handler(handlers.Sleep(sched)))
	handlerReg.Register("fail", diag.Handler(handlers.Fail))

	cfg := &config.DiagConfig{Host: "127.0.0.1", Port: 0}
	authCfg := config.AuthConfig{Enabled: false}

	ready := make(chan struct{})
	var root *task.Task
	done := make(chan error, 1)
	go func() {
		goruntime.LockOSThread()
		defer goruntime.UnlockOSThread()
		root = sched.Root(func(self *task.Task) (any, error) {
			close(ready)
			_, _ = sched.Suspend(self)
			return nil, nil
		})
		done <- sched.RunLoop()
	}()
	<-ready

	server := diag.NewServer(cfg, authCfg, sched, root, reg, hub, handlerReg)

	h := &testHarness{server: server, sched: sched, root: root, done: done}
	t.Cleanup(func() {
		sched.Stop(root, nil)
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop in time")
		}
		_ = re.Close()
	})
	return h
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.server.Router().ServeHTTP(w, req)
	return w
}

// waitUntil polls cond every few milliseconds, failing the test if it
// never becomes true within the timeout — used instead of a fixed sleep
// since the scheduler runs on its own goroutine at its own pace.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestDiagSpawnAndGet(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/diag/coprocesses", diag.SpawnRequest{
		Type:    "echo",
		Payload: map[string]any{"hello": "world"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snap diag.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotEmpty(t, snap.ID)

	waitUntil(t, time.Second, func() bool {
		w := h.do(t, http.MethodGet, "/diag/coprocesses/"+snap.ID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var got diag.Snapshot
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		return got.Terminal
	})
}

func TestDiagListAndStats(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/diag/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/diag/coprocesses", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/diag/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDiagCancelLongRunningCoprocess(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/diag/coprocesses", diag.SpawnRequest{
		Type:    "sleep",
		Payload: map[string]any{"duration_ms": float64(60000)},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snap diag.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))

	w = h.do(t, http.MethodDelete, "/diag/coprocesses/"+snap.ID, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	waitUntil(t, time.Second, func() bool {
		w := h.do(t, http.MethodGet, "/diag/coprocesses/"+snap.ID, nil)
		var got diag.Snapshot
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		return got.Terminal && got.Outcome != ""
	})
}

func TestDiagNotFound(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/diag/coprocesses/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
