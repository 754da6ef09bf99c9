package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpipe/internal/encoder"
	"github.com/jmylchreest/reelpipe/internal/observability"
	"github.com/jmylchreest/reelpipe/internal/pipeline"
)

type fakeRun struct {
	mu      sync.Mutex
	state   encoder.State
	paused  bool
	encoded int64
	stops   int
}

func (f *fakeRun) Status() pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipeline.Status{
		RunID:   "01J0000000000000000000TEST",
		Encoder: encoder.Stats{State: f.state.String(), Paused: f.paused, Encoded: f.encoded},
	}
}

func (f *fakeRun) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeRun) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *fakeRun) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeRun) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = encoder.StateStopping
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(run Run) *Server {
	return NewServer(DefaultServerConfig(), run, quietLogger(), "1.2.3")
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	run := &fakeRun{state: encoder.StateRunning, encoded: 42}
	srv := newTestServer(run)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "01J0000000000000000000TEST", body.Run.RunID)
	assert.Equal(t, "running", body.Run.Encoder.State)
	assert.Equal(t, int64(42), body.Run.Encoder.Encoded)
}

func TestActions(t *testing.T) {
	tests := []struct {
		path       string
		state      encoder.State
		wantStatus int
		wantPaused bool
	}{
		{"/api/v1/pause", encoder.StateRunning, http.StatusAccepted, true},
		{"/api/v1/pause", encoder.StateIdle, http.StatusAccepted, true},
		{"/api/v1/resume", encoder.StateRunning, http.StatusAccepted, false},
		{"/api/v1/pause", encoder.StateDone, http.StatusConflict, false},
		{"/api/v1/stop", encoder.StateError, http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.path+" while "+tt.state.String(), func(t *testing.T) {
			run := &fakeRun{state: tt.state}
			rec := do(t, newTestServer(run).Handler(), http.MethodPost, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantPaused, run.Paused())

			if tt.wantStatus == http.StatusAccepted {
				var body ActionResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantPaused, body.Paused)
			}
		})
	}
}

func TestStop(t *testing.T) {
	run := &fakeRun{state: encoder.StateRunning}
	h := newTestServer(run).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/stop")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stop", body.Action)
	assert.Equal(t, "stopping", body.State)

	rec = do(t, h, http.MethodPost, "/api/v1/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, run.stops)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newTestServer(&fakeRun{}).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/missing").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/v1/stop").Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), seen)
}

func TestRecovery(t *testing.T) {
	h := Recovery(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServe(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 0
	srv := NewServer(cfg, &fakeRun{state: encoder.StateRunning}, quietLogger(), "")
	require.NoError(t, srv.Listen())
	require.NotNil(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + srv.Addr().String() + "/api/v1/status")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
