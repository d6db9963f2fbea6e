package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/devicelive/internal/audit"
	"github.com/nerrad567/devicelive/internal/infrastructure/config"
	"github.com/nerrad567/devicelive/internal/infrastructure/database"
	"github.com/nerrad567/devicelive/internal/infrastructure/logging"
	"github.com/nerrad567/devicelive/internal/livechannel"
	"github.com/nerrad567/devicelive/migrations"
)

// fakeChannel is a LiveChannel with scripted behaviour.
type fakeChannel struct {
	mu       sync.Mutex
	state    livechannel.State
	inputs   [][2]string
	setErr   error
	retryErr error
	retries  int
}

func (f *fakeChannel) State() livechannel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Stats() livechannel.Stats {
	return livechannel.Stats{Sessions: 2, Readings: 5}
}

func (f *fakeChannel) SetInputs(deviceID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.inputs = append(f.inputs, [2]string{deviceID, token})
	if deviceID == "" {
		f.state = livechannel.State{Phase: livechannel.PhaseIdle}
	} else {
		f.state = livechannel.State{Phase: livechannel.PhaseConnecting, DeviceID: deviceID, IsConnecting: true}
	}
	return nil
}

func (f *fakeChannel) Retry() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retries++
	return nil
}

func (f *fakeChannel) HealthCheck(context.Context) error {
	if f.State().Phase == livechannel.PhaseSubscribed {
		return nil
	}
	return errors.New("not subscribed")
}

// testServer creates a Server around a fake channel. Log output is
// captured in the returned buffer.
func testServer(t *testing.T, ch *fakeChannel, repo audit.Repository) (*Server, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	log := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		Logger:  log,
		Channel: ch,
		Audit:   repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, &buf
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Channel: &fakeChannel{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without channel should fail")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		phase      livechannel.Phase
		wantStatus string
		wantLive   string
	}{
		{"subscribed", livechannel.PhaseSubscribed, "ok", "subscribed"},
		{"idle", livechannel.PhaseIdle, "degraded", "idle"},
		{"error", livechannel.PhaseError, "degraded", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, &fakeChannel{state: livechannel.State{Phase: tt.phase}}, nil)
			w := do(t, srv, http.MethodGet, "/api/v1/health", "")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp["status"] != tt.wantStatus || resp["live"] != tt.wantLive || resp["version"] != "test" {
				t.Errorf("health = %v", resp)
			}
		})
	}
}

func TestGetLive(t *testing.T) {
	temp := 19.5
	ch := &fakeChannel{state: livechannel.State{
		Phase:       livechannel.PhaseSubscribed,
		DeviceID:    "dev-1",
		IsConnected: true,
		Reading:     &livechannel.Reading{DeviceID: "dev-1", Temperature: &temp},
		Err:         errors.New("internal detail"),
	}}
	srv, _ := testServer(t, ch, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/live", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var st map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st["phase"] != "subscribed" || st["is_connected"] != true || st["device_id"] != "dev-1" {
		t.Errorf("state = %v", st)
	}
	reading, ok := st["reading"].(map[string]any)
	if !ok || reading["temperature"] != 19.5 {
		t.Errorf("reading = %v", st["reading"])
	}
	if strings.Contains(w.Body.String(), "internal detail") {
		t.Error("State.Err leaked into JSON")
	}
}

func TestLiveStats(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{}, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/live/stats", "")

	var stats livechannel.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Sessions != 2 || stats.Readings != 5 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSetLive(t *testing.T) {
	ch := &fakeChannel{}
	srv, logs := testServer(t, ch, nil)

	w := do(t, srv, http.MethodPut, "/api/v1/live", `{"device_id":" dev-1 ","token":"tok-super-secret"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(ch.inputs) != 1 || ch.inputs[0] != [2]string{"dev-1", "tok-super-secret"} {
		t.Errorf("inputs = %v", ch.inputs)
	}

	var st map[string]any
	json.Unmarshal(w.Body.Bytes(), &st)
	if st["phase"] != "connecting" {
		t.Errorf("phase = %v", st["phase"])
	}

	if strings.Contains(logs.String(), "tok-super-secret") {
		t.Error("token reached the log output")
	}
	if !strings.Contains(logs.String(), "token_fp") {
		t.Error("expected token fingerprint in logs")
	}
}

func TestSetLive_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"invalid json", `{`, ErrCodeBadRequest},
		{"missing token", `{"device_id":"dev-1"}`, ErrCodeValidation},
		{"missing device", `{"token":"t"}`, ErrCodeValidation},
		{"blank device", `{"device_id":"  ","token":"t"}`, ErrCodeValidation},
		{"too large", `{"device_id":"` + strings.Repeat("x", maxRequestBodySize) + `","token":"t"}`, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			srv, _ := testServer(t, ch, nil)

			w := do(t, srv, http.MethodPut, "/api/v1/live", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if e := decodeError(t, w); e.Code != tt.wantCode || e.Status != http.StatusBadRequest {
				t.Errorf("error = %+v, want code %s", e, tt.wantCode)
			}
			if len(ch.inputs) != 0 {
				t.Error("SetInputs called for an invalid request")
			}
		})
	}
}

func TestSetLive_ChannelClosed(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{setErr: livechannel.ErrClosed}, nil)

	w := do(t, srv, http.MethodPut, "/api/v1/live", `{"device_id":"dev-1","token":"t"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestClearLive(t *testing.T) {
	ch := &fakeChannel{state: livechannel.State{Phase: livechannel.PhaseSubscribed, DeviceID: "dev-1"}}
	srv, _ := testServer(t, ch, nil)

	w := do(t, srv, http.MethodDelete, "/api/v1/live", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(ch.inputs) != 1 || ch.inputs[0] != [2]string{"", ""} {
		t.Errorf("inputs = %v, want cleared", ch.inputs)
	}
	if ch.State().Phase != livechannel.PhaseIdle {
		t.Errorf("phase = %v, want idle", ch.State().Phase)
	}
}

func TestRetryLive(t *testing.T) {
	tests := []struct {
		name       string
		retryErr   error
		wantStatus int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"no inputs", livechannel.ErrNoInputs, http.StatusConflict},
		{"not terminal", livechannel.ErrNotRetryable, http.StatusConflict},
		{"closed", livechannel.ErrClosed, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{retryErr: tt.retryErr}
			srv, _ := testServer(t, ch, nil)

			w := do(t, srv, http.MethodPost, "/api/v1/live/retry", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.retryErr == nil && ch.retries != 1 {
				t.Errorf("retries = %d, want 1", ch.retries)
			}
		})
	}
}

func TestListEvents_Disabled(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{}, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/live/events", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)

	for _, e := range []audit.Event{
		{DeviceID: "dev-1", Phase: "connecting"},
		{DeviceID: "dev-1", Phase: "subscribed"},
		{DeviceID: "dev-2", Phase: "connecting"},
	} {
		if err := repo.Create(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}

	srv, _ := testServer(t, &fakeChannel{}, repo)

	tests := []struct {
		name   string
		query  string
		status int
		total  int
		count  int
	}{
		{"all", "", http.StatusOK, 3, 3},
		{"by device", "?device_id=dev-1", http.StatusOK, 2, 2},
		{"by phase", "?phase=connecting", http.StatusOK, 2, 2},
		{"paged", "?limit=1&offset=1", http.StatusOK, 3, 1},
		{"bad limit ignored", "?limit=abc", http.StatusOK, 3, 3},
		{"unknown phase", "?phase=bogus", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, "/api/v1/live/events"+tt.query, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var res audit.ListResult
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatal(err)
			}
			if res.Total != tt.total || len(res.Events) != tt.count {
				t.Errorf("total = %d, count = %d, want %d/%d", res.Total, len(res.Events), tt.total, tt.count)
			}
		})
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{}, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a uuid", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{}, nil)
	router := srv.buildRouter()

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:3000", "http://localhost:3000"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/live", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	srv, logs := testServer(t, &fakeChannel{}, nil)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(logs.String(), "panic recovered") {
		t.Error("panic not logged")
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{}, nil)

	if w := do(t, srv, http.MethodGet, "/api/v1/nope", ""); w.Code != http.StatusNotFound || decodeError(t, w).Code != ErrCodeNotFound {
		t.Errorf("unknown route = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPatch, "/api/v1/live", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PATCH /live = %d, want 405", w.Code)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	srv, _ := testServer(t, &fakeChannel{}, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
