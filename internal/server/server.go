// Package server implements the HTTP ingestion endpoint for the relay.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeremyward/tvrelay/internal/model"
	"github.com/jeremyward/tvrelay/internal/scheduler"
)

// IngestFunc receives validated events for downstream merging. It must not
// block on display work; the HTTP response is sent as soon as the handoff
// returns.
type IngestFunc func(*model.NotificationEvent)

// AllowFunc decides whether events from a source app are relayed.
type AllowFunc func(app string) bool

// Status is the payload served at GET /status.
type Status struct {
	Service      string          `json:"service"`
	Version      string          `json:"version"`
	StartedAt    time.Time       `json:"started_at"`
	Uptime       string          `json:"uptime"`
	Received     uint64          `json:"received"`
	Rejected     uint64          `json:"rejected"`
	Filtered     uint64          `json:"filtered"`
	MergePending int             `json:"merge_pending"`
	Scheduler    scheduler.Stats `json:"scheduler"`
}

// StatusFunc supplies the daemon-level portion of the status report.
type StatusFunc func() Status

// Server accepts notification events over HTTP and hands them to the merge
// engine. Requests are independent; downstream serialization happens in the
// merge engine and scheduler, not here.
type Server struct {
	logger *slog.Logger
	engine *gin.Engine
	ingest IngestFunc
	allow  AllowFunc
	status StatusFunc

	received atomic.Uint64
	rejected atomic.Uint64
	filtered atomic.Uint64
}

// NewServer creates the ingestion server.
func NewServer(ingest IngestFunc, allow AllowFunc, status StatusFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger: logger,
		engine: gin.New(),
		ingest: ingest,
		allow:  allow,
		status: status,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())

	s.engine.POST("/notify", s.handleNotify)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// Handler returns the HTTP handler for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Counters returns the received/rejected/filtered request totals.
func (s *Server) Counters() (received, rejected, filtered uint64) {
	return s.received.Load(), s.rejected.Load(), s.filtered.Load()
}

// handleNotify parses a payload into a NotificationEvent and forwards it.
// Malformed payloads are rejected with 400 and never reach the merge engine.
func (s *Server) handleNotify(c *gin.Context) {
	var p model.Payload
	if err := c.ShouldBind(&p); err != nil {
		s.rejected.Add(1)
		s.logger.Debug("rejected unparseable payload", "error", err, "remote", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload: " + err.Error()})
		return
	}

	ev, err := p.ToEvent()
	if err != nil {
		s.rejected.Add(1)
		s.logger.Debug("rejected invalid event", "error", err, "app", p.App, "remote", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.allow != nil && !s.allow(ev.SourceApp) {
		// Producers are acked either way; filtering is not an error.
		s.filtered.Add(1)
		s.logger.Debug("filtered event from non-allowlisted app", "app", ev.SourceApp)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "filtered": true})
		return
	}

	s.received.Add(1)
	s.logger.Info("accepted notification",
		"event_id", ev.ID,
		"app", ev.SourceApp,
		"title", ev.Title,
		"is_group", ev.IsGroup,
	)

	s.ingest(ev)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "id": ev.ID})
}

// handleHealth is the liveness probe. Fixed response, no side effects.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
		return
	}
	c.JSON(http.StatusOK, s.status())
}
