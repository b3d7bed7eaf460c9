package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyward/tvrelay/internal/model"
	"github.com/jeremyward/tvrelay/internal/scheduler"
)

type capture struct {
	mu     sync.Mutex
	events []*model.NotificationEvent
}

func (c *capture) ingest(ev *model.NotificationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) all() []*model.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.NotificationEvent(nil), c.events...)
}

func newTestServer(t *testing.T, allow AllowFunc) (*Server, *capture) {
	t.Helper()
	rec := &capture{}
	status := func() Status {
		return Status{
			Service:   "tvrelayd",
			StartedAt: time.Now().Add(-time.Minute),
			Uptime:    "1m0s",
			Scheduler: scheduler.Stats{State: "idle"},
		}
	}
	return NewServer(rec.ingest, allow, status, nil), rec
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNotifyAcceptsValidJSON(t *testing.T) {
	srv, rec := newTestServer(t, nil)

	w := postJSON(t, srv.Handler(), "/notify", map[string]any{
		"title":    "Alice",
		"message":  "lunch?",
		"app":      "com.whatsapp",
		"duration": 15,
		"priority": "high",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["id"])

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "Alice", events[0].Title)
	assert.Equal(t, "lunch?", events[0].Body)
	assert.Equal(t, "com.whatsapp", events[0].SourceApp)
	assert.Equal(t, 15, events[0].RequestedDuration)
	assert.Equal(t, model.PriorityHigh, events[0].Priority)

	received, rejected, filtered := srv.Counters()
	assert.Equal(t, uint64(1), received)
	assert.Zero(t, rejected)
	assert.Zero(t, filtered)
}

func TestNotifyAcceptsFormEncoding(t *testing.T) {
	srv, rec := newTestServer(t, nil)

	form := url.Values{}
	form.Set("title", "Bob")
	form.Set("message", "ping")
	form.Set("app", "org.telegram.messenger")

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "Bob", events[0].Title)
}

func TestNotifyRejectsMalformedBody(t *testing.T) {
	srv, rec := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rec.all())

	_, rejected, _ := srv.Counters()
	assert.Equal(t, uint64(1), rejected)
}

func TestNotifyRejectsInvalidEvent(t *testing.T) {
	srv, rec := newTestServer(t, nil)

	// Missing title fails event validation after a successful bind.
	w := postJSON(t, srv.Handler(), "/notify", map[string]any{
		"message": "no title here",
		"app":     "com.example",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "title")
	assert.Empty(t, rec.all())
}

func TestNotifyGroupFieldsSurvive(t *testing.T) {
	srv, rec := newTestServer(t, nil)

	w := postJSON(t, srv.Handler(), "/notify", map[string]any{
		"title":      "Family",
		"message":    "dinner at 7",
		"app":        "com.whatsapp",
		"is_group":   true,
		"group_name": "Family",
		"sender":     "Mum",
	})

	require.Equal(t, http.StatusOK, w.Code)
	events := rec.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].IsGroup)
	assert.Equal(t, "Mum", events[0].SenderName)
	assert.Equal(t, "Mum: dinner at 7", events[0].DisplayBody())
}

func TestNotifyFilteredAppIsAckedAndDropped(t *testing.T) {
	allow := func(app string) bool { return app == "com.whatsapp" }
	srv, rec := newTestServer(t, allow)

	w := postJSON(t, srv.Handler(), "/notify", map[string]any{
		"title": "spam",
		"app":   "com.adware",
	})

	// Producers cannot distinguish filtered from relayed.
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rec.all())

	received, _, filtered := srv.Counters()
	assert.Zero(t, received)
	assert.Equal(t, uint64(1), filtered)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
}

func TestStatusReport(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "tvrelayd", st.Service)
	assert.Equal(t, "idle", st.Scheduler.State)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
