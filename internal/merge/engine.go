// Package merge coalesces notification bursts into single display batches.
package merge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jeremyward/tvrelay/internal/model"
)

// DefaultWindow is the default merge window.
const DefaultWindow = 3 * time.Second

// EmitFunc receives sealed batches. It is called with the engine lock held
// and must not call back into the engine; hand the batch off and return.
type EmitFunc func(*model.MergedBatch)

// Engine batches events arriving within a merge window into one MergedBatch.
//
// An event arriving after a quiet period (at least one window since the last
// emission) is emitted immediately as a singleton. Events arriving inside the
// window are buffered; a timer armed when the first event enters the empty
// buffer seals the buffer one window later. The timer is never extended by
// later arrivals, so a burst longer than the window produces multiple batches
// instead of growing without bound. Emission resets the suppression clock.
type Engine struct {
	mu     sync.Mutex
	logger *slog.Logger

	window time.Duration
	emit   EmitFunc

	buf          []*model.NotificationEvent
	timer        *time.Timer
	armGen       uint64
	lastEmission time.Time
	stopped      bool
}

// NewEngine creates a merge engine emitting sealed batches through emit.
func NewEngine(window time.Duration, emit EmitFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{
		logger: logger,
		window: window,
		emit:   emit,
	}
}

// Offer hands an event to the engine. Safe for concurrent use; buffer
// mutation is serialized so batches preserve arrival order.
func (e *Engine) Offer(ev *model.NotificationEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	now := time.Now()
	if len(e.buf) == 0 && now.Sub(e.lastEmission) >= e.window {
		// Quiet period: no artificial delay, emit as a singleton.
		e.lastEmission = now
		batch := model.NewBatch([]*model.NotificationEvent{ev})
		e.logger.Debug("emitting singleton batch", "batch_id", batch.ID, "app", batch.SourceApp)
		e.emit(batch)
		return
	}

	e.buf = append(e.buf, ev)
	if len(e.buf) == 1 {
		e.armLocked(now)
	}
	e.logger.Debug("buffered event for merge", "event_id", ev.ID, "buffer_size", len(e.buf))
}

// armLocked arms the seal timer one window out. Replaces any previous timer
// rather than stacking a second one. Caller must hold the lock.
func (e *Engine) armLocked(now time.Time) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.armGen++
	gen := e.armGen
	e.timer = time.AfterFunc(e.window, func() {
		e.sealExpired(gen)
	})
}

// sealExpired seals the buffer when the arm that scheduled it is still
// current. A fire racing a Flush or Stop is ignored.
func (e *Engine) sealExpired(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || gen != e.armGen {
		return
	}
	e.sealLocked()
}

// sealLocked emits the buffered events as one batch. Empty buffer is a no-op.
// Caller must hold the lock.
func (e *Engine) sealLocked() {
	if len(e.buf) == 0 {
		return
	}

	batch := model.NewBatch(e.buf)
	e.buf = nil
	e.lastEmission = time.Now()

	e.logger.Debug("sealed merged batch",
		"batch_id", batch.ID,
		"events", batch.Size(),
		"is_group", batch.IsGroup,
	)
	e.emit(batch)
}

// Flush seals any pending buffer immediately.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.armGen++
	e.sealLocked()
}

// SetWindow updates the merge window. Takes effect from the next arm.
func (e *Engine) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = window
}

// Window returns the current merge window.
func (e *Engine) Window() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window
}

// PendingCount returns the number of buffered, unsealed events.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// Stop cancels the timer and discards any buffered events. Further offers
// are ignored.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if n := len(e.buf); n > 0 {
		e.logger.Debug("discarding buffered events on stop", "count", n)
	}
	e.buf = nil
}
