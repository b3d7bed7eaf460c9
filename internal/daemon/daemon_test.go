package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyward/tvrelay/internal/config"
	"github.com/jeremyward/tvrelay/internal/model"
	"github.com/jeremyward/tvrelay/internal/render"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	shown  []render.Content
	hidden int
}

func (s *recordingSink) Show(c render.Content, slot model.DisplaySlot, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, c)
	return nil
}

func (s *recordingSink) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden++
}

func (s *recordingSink) shownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shown)
}

func startDaemon(t *testing.T, cfg *config.Config, sink render.Sink) (*Daemon, string) {
	t.Helper()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Server.Listen = "127.0.0.1:0"

	d := New(Options{Config: cfg, Sink: sink, Version: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not shut down")
		}
	})

	require.Eventually(t, func() bool { return d.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	return d, "http://" + d.Addr()
}

func postNotify(t *testing.T, base string, body map[string]any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(base+"/notify", "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func TestDaemonEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Merge.Window = config.Duration(50 * time.Millisecond)

	sink := &recordingSink{}
	_, base := startDaemon(t, cfg, sink)

	resp := postNotify(t, base, map[string]any{
		"title":   "Alice",
		"message": "hello from the phone",
		"app":     "com.whatsapp",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// First event after idle shows immediately.
	require.Eventually(t, func() bool { return sink.shownCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	assert.Equal(t, "Alice", sink.shown[0].Title)
	assert.Equal(t, "hello from the phone", sink.shown[0].Body)
	sink.mu.Unlock()
}

func TestDaemonBurstMergesIntoOneOverlay(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Merge.Window = config.Duration(200 * time.Millisecond)

	sink := &recordingSink{}
	_, base := startDaemon(t, cfg, sink)

	// Prime so the burst falls inside the suppression window. Short display
	// duration keeps the second overlay inside the test's wait budget.
	resp := postNotify(t, base, map[string]any{"title": "first", "message": "m0", "app": "com.whatsapp", "duration": 1})
	resp.Body.Close()
	require.Eventually(t, func() bool { return sink.shownCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 1; i <= 3; i++ {
		resp := postNotify(t, base, map[string]any{
			"title":    "first",
			"message":  fmt.Sprintf("m%d", i),
			"app":      "com.whatsapp",
			"duration": 1,
		})
		resp.Body.Close()
	}

	require.Eventually(t, func() bool { return sink.shownCount() >= 2 }, 4*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.shown, 2)
	assert.Equal(t, "m1\nm2\nm3", sink.shown[1].Body)
	assert.True(t, sink.shown[1].IsGroup)
}

func TestDaemonStatusEndpoint(t *testing.T) {
	d, base := startDaemon(t, nil, &recordingSink{})

	resp, err := http.Get(base + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "tvrelayd", st["service"])
	assert.Equal(t, "test", st["version"])
	assert.NotNil(t, st["scheduler"])

	assert.NotNil(t, d.Scheduler())
}

func TestDaemonAllowlistDrops(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Filter.Apps = []string{"com.whatsapp"}

	sink := &recordingSink{}
	_, base := startDaemon(t, cfg, sink)

	resp := postNotify(t, base, map[string]any{"title": "spam", "app": "com.adware"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, sink.shownCount())
}

func TestDaemonBindFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"

	first := New(Options{Config: cfg, Sink: &recordingSink{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()
	require.Eventually(t, func() bool { return first.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	second := New(Options{Config: &config.Config{
		Server: config.ServerConfig{Listen: first.Addr()},
		Merge:  config.MergeConfig{Window: config.Duration(time.Second)},
		Queue:  config.QueueConfig{Max: 5},
		Media:  config.MediaConfig{FetchTimeout: config.Duration(time.Second)},
	}, Sink: &recordingSink{}})

	err := second.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")

	cancel()
	require.NoError(t, <-done)
}

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tvrelayd.toml")

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Save(path))

	w := NewConfigWatcher(path, testLogger())

	reloaded := make(chan *config.Config, 1)
	w.SetReloadCallback(func(c *config.Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	cfg.Queue.Max = 9
	require.NoError(t, cfg.Save(path))

	select {
	case c := <-reloaded:
		assert.Equal(t, 9, c.Queue.Max)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestConfigWatcherRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tvrelayd.toml")

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Save(path))

	w := NewConfigWatcher(path, testLogger())

	errs := make(chan error, 1)
	w.SetErrorCallback(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	w.SetReloadCallback(func(c *config.Config) {
		t.Error("invalid config must not reach the reload callback")
	})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[queue]\nmax = -1\n"), 0o644))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("error callback never fired")
	}
}
