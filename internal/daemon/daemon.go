// Package daemon provides the main orchestration for tvrelayd.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyward/tvrelay/internal/config"
	"github.com/jeremyward/tvrelay/internal/media"
	"github.com/jeremyward/tvrelay/internal/merge"
	"github.com/jeremyward/tvrelay/internal/model"
	"github.com/jeremyward/tvrelay/internal/placement"
	"github.com/jeremyward/tvrelay/internal/render"
	"github.com/jeremyward/tvrelay/internal/scheduler"
	"github.com/jeremyward/tvrelay/internal/server"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Daemon.
type Options struct {
	Config     *config.Config
	ConfigPath string // watched for hot reload; empty disables watching
	Sink       render.Sink
	Logger     *slog.Logger
	Version    string
}

// Daemon wires the ingestion server, merge engine, scheduler and media
// fetcher together and runs them until the context is cancelled.
type Daemon struct {
	logger    *slog.Logger
	version   string
	startedAt time.Time

	mu   sync.RWMutex
	cfg  *config.Config
	addr atomic.Value // bound listen address, set once Run has a listener

	resolver *placement.Resolver
	fetcher  *media.Fetcher
	sched    *scheduler.Scheduler
	engine   *merge.Engine
	srv      *server.Server
	watcher  *ConfigWatcher
}

// New builds the daemon component graph from the given options. The sink
// defaults to a log sink when nil, which keeps the relay runnable headless.
func New(opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	sink := opts.Sink
	if sink == nil {
		sink = render.NewLogSink(logger)
	}

	d := &Daemon{
		logger:  logger,
		version: opts.Version,
		cfg:     cfg,
	}

	d.resolver = placement.NewResolver(cfg.PlacementOverrides())
	d.fetcher = media.NewFetcher(cfg.Media.FetchTimeout.Duration(), logger)
	d.sched = scheduler.NewScheduler(sink, d.resolver, d.fetcher, cfg.Queue.Max, logger)
	d.engine = merge.NewEngine(cfg.Merge.Window.Duration(), func(b *model.MergedBatch) {
		d.sched.Enqueue(b)
	}, logger)
	d.srv = server.NewServer(d.ingest, d.appAllowed, d.status, logger)

	if opts.ConfigPath != "" {
		d.watcher = NewConfigWatcher(opts.ConfigPath, logger)
		d.watcher.SetReloadCallback(d.applyConfig)
	}

	return d
}

// Run starts all components and blocks until ctx is cancelled or the HTTP
// server fails. A bind failure is returned immediately so startup problems
// are fatal rather than silently degraded.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()

	listen := d.config().Server.Listen
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", listen, err)
	}
	d.addr.Store(ln.Addr().String())

	d.sched.Start()
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Warn("config watcher unavailable, hot reload disabled", "error", err)
		}
	}

	httpSrv := &http.Server{
		Handler:           d.srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	d.logger.Info("tvrelayd listening",
		"addr", ln.Addr().String(),
		"merge_window", d.engine.Window(),
		"queue_max", d.config().Queue.Max,
		"version", d.version,
	)

	select {
	case err := <-serveErr:
		d.shutdown(httpSrv)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		d.logger.Info("shutting down")
		d.shutdown(httpSrv)
		return nil
	}
}

func (d *Daemon) shutdown(httpSrv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown did not complete cleanly", "error", err)
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}

	// Push buffered events out before stopping so a burst in flight at
	// shutdown still reaches the display queue.
	d.engine.Flush()
	d.engine.Stop()
	d.sched.Stop()
	d.logger.Info("stopped")
}

// Addr returns the bound listen address, or "" before Run has a listener.
func (d *Daemon) Addr() string {
	if v := d.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Scheduler exposes the display scheduler, mainly for status and dismissal.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.sched
}

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) ingest(ev *model.NotificationEvent) {
	d.engine.Offer(ev)
}

func (d *Daemon) appAllowed(app string) bool {
	return d.config().AppAllowed(app)
}

func (d *Daemon) status() server.Status {
	received, rejected, filtered := d.srv.Counters()
	return server.Status{
		Service:      "tvrelayd",
		Version:      d.version,
		StartedAt:    d.startedAt,
		Uptime:       time.Since(d.startedAt).Round(time.Second).String(),
		Received:     received,
		Rejected:     rejected,
		Filtered:     filtered,
		MergePending: d.engine.PendingCount(),
		Scheduler:    d.sched.Stats(),
	}
}

// applyConfig applies a validated reloaded configuration to the running
// components. The listen address and media fetch timeout are fixed at
// startup; changes to them only take effect after a restart.
func (d *Daemon) applyConfig(newCfg *config.Config) {
	old := d.config()

	d.mu.Lock()
	d.cfg = newCfg
	d.mu.Unlock()

	if newCfg.Merge.Window != old.Merge.Window {
		d.engine.SetWindow(newCfg.Merge.Window.Duration())
		d.logger.Info("merge window updated", "window", newCfg.Merge.Window.Duration())
	}
	if newCfg.Queue.Max != old.Queue.Max {
		d.sched.SetMaxQueue(newCfg.Queue.Max)
		d.logger.Info("queue depth updated", "max", newCfg.Queue.Max)
	}
	d.resolver.SetOverrides(newCfg.PlacementOverrides())

	if newCfg.Server.Listen != old.Server.Listen {
		d.logger.Warn("listen address changed, restart required to apply",
			"current", old.Server.Listen, "new", newCfg.Server.Listen)
	}
	if newCfg.Media.FetchTimeout != old.Media.FetchTimeout {
		d.logger.Warn("media fetch timeout changed, restart required to apply")
	}
}
