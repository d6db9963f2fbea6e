package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelive/internal/audit"
	"github.com/nerrad567/devicelive/internal/infrastructure/config"
	"github.com/nerrad567/devicelive/internal/infrastructure/database"
	"github.com/nerrad567/devicelive/internal/infrastructure/logging"
	"github.com/nerrad567/devicelive/internal/livechannel"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func baseConfig(liveURL, dbPath, deviceID, token string) string {
	return `
live:
  url: "` + liveURL + `"
  device_id: "` + deviceID + `"
  token: "` + token + `"
  connect_timeout: 2s

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

api:
  enabled: false

audit:
  enabled: true

logging:
  level: error
  format: text
  output: stderr
`
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DEVICELIVE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidLiveURL verifies config validation stops startup.
func TestRun_InvalidLiveURL(t *testing.T) {
	path := writeConfig(t, baseConfig("http://not-a-websocket", filepath.Join(t.TempDir(), "x.db"), "", ""))
	t.Setenv("DEVICELIVE_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "live.url") {
		t.Fatalf("run() error = %v, want live.url validation error", err)
	}
}

// TestRun_IdleStartupAndShutdown starts without inputs and shuts down cleanly.
func TestRun_IdleStartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idle.db")
	t.Setenv("DEVICELIVE_CONFIG", writeConfig(t, baseConfig("ws://127.0.0.1:1/device-readings", dbPath, "", "")))
	t.Setenv("DEVICELIVE_LIVE_DEVICE_ID", "")
	t.Setenv("DEVICELIVE_LIVE_TOKEN", "")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestRun_SubscribesAndRecordsEvents drives the daemon against an
// in-process push server and checks the session trail afterwards.
func TestRun_SubscribesAndRecordsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]any{"event": livechannel.EventNameAuthenticated})
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"event": livechannel.EventNameSubscribed, "data": map[string]string{"deviceId": "dev-1"}})
		conn.WriteJSON(map[string]any{"event": livechannel.EventNameDeviceData, "data": map[string]any{"deviceId": "dev-1", "humidity": 40}})
		close(subscribed)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/device-readings"
	dbPath := filepath.Join(t.TempDir(), "live.db")
	t.Setenv("DEVICELIVE_CONFIG", writeConfig(t, baseConfig(wsURL, dbPath, "dev-1", "opaque-token")))
	t.Setenv("DEVICELIVE_LIVE_DEVICE_ID", "")
	t.Setenv("DEVICELIVE_LIVE_TOKEN", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case <-subscribed:
	case err := <-done:
		cancel()
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server never saw a subscription")
	}
	// Give the recorder a moment to write the subscribed row.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer db.Close()

	res, err := audit.NewSQLiteRepository(db.DB).List(context.Background(), audit.Filter{DeviceID: "dev-1", Phase: "subscribed"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("subscribed events = %d, want 1", res.Total)
	}
	ev := res.Events[0]
	if ev.TokenFP == "" || strings.Contains(ev.TokenFP, "opaque-token") {
		t.Errorf("TokenFP = %q, want a fingerprint", ev.TokenFP)
	}
}

type recordingSetter struct {
	calls [][2]string
	err   error
}

func (r *recordingSetter) SetInputs(deviceID, token string) error {
	r.calls = append(r.calls, [2]string{deviceID, token})
	return r.err
}

func TestReloadInputs(t *testing.T) {
	t.Setenv("DEVICELIVE_LIVE_DEVICE_ID", "")
	t.Setenv("DEVICELIVE_LIVE_TOKEN", "")
	path := writeConfig(t, baseConfig("wss://push.example.test/device-readings", filepath.Join(t.TempDir(), "x.db"), "dev-9", "tok-9"))
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	setter := &recordingSetter{}
	if err := reloadInputs(path, setter, log); err != nil {
		t.Fatalf("reloadInputs() error = %v", err)
	}
	if len(setter.calls) != 1 || setter.calls[0] != [2]string{"dev-9", "tok-9"} {
		t.Errorf("SetInputs calls = %v", setter.calls)
	}

	if err := reloadInputs("/nonexistent.yaml", setter, log); err == nil {
		t.Error("reloadInputs() with missing file should fail")
	}

	setter.err = livechannel.ErrClosed
	if err := reloadInputs(path, setter, log); !errors.Is(err, livechannel.ErrClosed) {
		t.Errorf("reloadInputs() error = %v, want ErrClosed", err)
	}
}

func TestLivechannelConfig(t *testing.T) {
	got := livechannelConfig(config.LiveConfig{
		URL:            "wss://x",
		Transport:      "websocket",
		ConnectTimeout: 3 * time.Second,
		Backoff: config.BackoffConfig{
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Second,
			MaxAttempts: 4,
		},
	})
	want := livechannel.Config{
		URL:            "wss://x",
		Transport:      "websocket",
		ConnectTimeout: 3 * time.Second,
		Backoff:        livechannel.Backoff{BaseDelay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 4},
	}
	if got != want {
		t.Errorf("livechannelConfig() = %+v, want %+v", got, want)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("DEVICELIVE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("DEVICELIVE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestHealthCheck_NoOptionalComponents(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil); err != nil {
		t.Errorf("healthCheck() = %v", err)
	}
}
