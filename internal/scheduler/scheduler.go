// Package scheduler owns the single active overlay slot and the pending
// display queue.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyward/tvrelay/internal/media"
	"github.com/jeremyward/tvrelay/internal/model"
	"github.com/jeremyward/tvrelay/internal/placement"
	"github.com/jeremyward/tvrelay/internal/render"
)

// DefaultMaxQueue bounds the pending display queue.
const DefaultMaxQueue = 5

// State is the scheduler's display state.
type State int

const (
	// StateIdle means no overlay is active; the queue may still hold entries.
	StateIdle State = iota
	// StateShowing means exactly one overlay is active.
	StateShowing
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateShowing:
		return "showing"
	default:
		return "unknown"
	}
}

// MediaFetcher retrieves a displayable asset for a media reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaRef string) (*media.Asset, error)
}

// entry is a batch bound to a resolved slot and a fetched-or-pending asset,
// waiting to become the active overlay. Owned exclusively by the run loop
// once enqueued; the seq token guards against late callbacks touching
// evicted state.
type entry struct {
	seq    uint64
	batch  *model.MergedBatch
	slot   model.DisplaySlot
	asset  *media.Asset
	ready  bool
	cancel context.CancelFunc
}

// intentKind discriminates the commands applied by the run loop.
type intentKind int

const (
	intentEnqueue intentKind = iota
	intentTick
	intentFetchDone
	intentDismiss
	intentSetMaxQueue
)

// intent is one command on the serialized stream. Producers (HTTP handlers,
// timers, fetch completions) only ever enqueue intents; the run loop applies
// them in arrival order.
type intent struct {
	kind  intentKind
	entry *entry
	seq   uint64
	asset *media.Asset
	err   error
	max   int
}

// Stats is a point-in-time snapshot of scheduler activity.
type Stats struct {
	State         string `json:"state"`
	ActiveTitle   string `json:"active_title,omitempty"`
	QueueDepth    int    `json:"queue_depth"`
	Enqueued      uint64 `json:"enqueued"`
	Shown         uint64 `json:"shown"`
	Evicted       uint64 `json:"evicted"`
	MediaFailures uint64 `json:"media_failures"`
	SinkFailures  uint64 `json:"sink_failures"`
	StaleSignals  uint64 `json:"stale_signals"`
}

// Scheduler drives show/auto-dismiss timing for merged batches. All state
// mutation happens on a single run-loop goroutine fed by an intent channel,
// so producers never lock shared display state directly.
type Scheduler struct {
	logger   *slog.Logger
	sink     render.Sink
	resolver *placement.Resolver
	fetcher  MediaFetcher

	seq     atomic.Uint64
	intents chan intent
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool

	// Run-loop state. Touched only by run().
	state    State
	active   *entry
	expiry   *time.Timer
	queue    []*entry
	maxQueue int

	// Snapshot for Stats(), updated by the run loop.
	statsMu sync.RWMutex
	stats   Stats
}

// NewScheduler creates a display scheduler emitting render commands to sink.
func NewScheduler(sink render.Sink, resolver *placement.Resolver, fetcher MediaFetcher, maxQueue int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	return &Scheduler{
		logger:   logger,
		sink:     sink,
		resolver: resolver,
		fetcher:  fetcher,
		maxQueue: maxQueue,
		intents:  make(chan intent, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		stats:    Stats{State: StateIdle.String()},
	}
}

// Start launches the run loop.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.logger.Info("display scheduler started", "max_queue", s.maxQueue)
}

// Stop dismisses any active overlay, discards the queue and stops the run
// loop. Blocks until the loop has exited.
func (s *Scheduler) Stop() {
	if !s.started.Load() {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("display scheduler stopped")
}

// Enqueue hands a sealed batch to the scheduler. Placement is resolved here;
// if the batch carries media, an asynchronous fetch begins immediately and
// the entry becomes display-ready once it completes or fails.
func (s *Scheduler) Enqueue(b *model.MergedBatch) {
	if b == nil {
		return
	}

	e := &entry{
		seq:   s.seq.Add(1),
		batch: b,
		slot:  s.resolver.ResolveBatch(b),
		ready: !b.HasMedia(),
	}

	if b.HasMedia() && s.fetcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		go s.fetch(ctx, e.seq, b.MediaRef)
	} else if b.HasMedia() {
		e.ready = true
	}

	s.send(intent{kind: intentEnqueue, entry: e})
}

// Dismiss is the external override: hide the active overlay, cancel pending
// fetches and timers, and discard the queue.
func (s *Scheduler) Dismiss() {
	s.send(intent{kind: intentDismiss})
}

// SetMaxQueue updates the queue bound at runtime.
func (s *Scheduler) SetMaxQueue(max int) {
	if max <= 0 {
		return
	}
	s.send(intent{kind: intentSetMaxQueue, max: max})
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// send enqueues an intent unless the scheduler is shutting down.
func (s *Scheduler) send(in intent) {
	select {
	case s.intents <- in:
	case <-s.stopCh:
	}
}

// fetch runs a media fetch and reports its outcome as an intent.
func (s *Scheduler) fetch(ctx context.Context, seq uint64, ref string) {
	asset, err := s.fetcher.Fetch(ctx, ref)
	s.send(intent{kind: intentFetchDone, seq: seq, asset: asset, err: err})
}

// run is the single consumer applying intents in arrival order.
func (s *Scheduler) run() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			s.applyDismiss()
			s.publishStats()
			return
		case in := <-s.intents:
			switch in.kind {
			case intentEnqueue:
				s.applyEnqueue(in.entry)
			case intentTick:
				s.applyTick(in.seq)
			case intentFetchDone:
				s.applyFetchDone(in.seq, in.asset, in.err)
			case intentDismiss:
				s.applyDismiss()
			case intentSetMaxQueue:
				s.applySetMaxQueue(in.max)
			}
			s.publishStats()
		}
	}
}

// applyEnqueue appends an entry, evicting the oldest queued entry on
// overflow, then attempts to advance if idle.
func (s *Scheduler) applyEnqueue(e *entry) {
	s.queue = append(s.queue, e)
	s.bumpEnqueued()

	for len(s.queue) > s.maxQueue {
		evicted := s.queue[0]
		s.queue = s.queue[1:]
		s.invalidate(evicted)
		s.bumpEvicted()
		s.logger.Warn("display queue overflow, dropped oldest entry",
			"batch_id", evicted.batch.ID,
			"title", evicted.batch.Title,
		)
	}

	s.logger.Debug("enqueued batch",
		"batch_id", e.batch.ID,
		"slot", string(e.slot),
		"ready", e.ready,
		"queue_depth", len(s.queue),
	)

	s.advance()
}

// applyTick handles an expiry-timer fire. A tick whose seq no longer matches
// the active entry is stale (the entry was dismissed or replaced) and is
// ignored.
func (s *Scheduler) applyTick(seq uint64) {
	if s.state != StateShowing || s.active == nil || s.active.seq != seq {
		s.bumpStale()
		s.logger.Debug("ignoring stale expiry tick", "seq", seq)
		return
	}

	s.sink.Hide()
	s.logger.Debug("overlay expired", "batch_id", s.active.batch.ID)
	s.active = nil
	s.state = StateIdle

	// Back-to-back: the next entry starts within the same tick-processing
	// step, with no forced idle gap.
	s.advance()
}

// applyFetchDone binds a fetch result to its entry. Results for entries that
// were evicted or dismissed while the fetch was in flight are dropped.
func (s *Scheduler) applyFetchDone(seq uint64, asset *media.Asset, err error) {
	var target *entry
	for _, e := range s.queue {
		if e.seq == seq {
			target = e
			break
		}
	}
	if target == nil {
		s.bumpStale()
		s.logger.Debug("ignoring fetch result for removed entry", "seq", seq)
		return
	}

	if err != nil {
		// The entry still proceeds to display, just without media.
		s.bumpMediaFailure()
		s.logger.Warn("media fetch failed, showing without media",
			"batch_id", target.batch.ID,
			"error", err,
		)
	} else {
		target.asset = asset
	}
	target.ready = true
	target.cancel = nil

	s.advance()
}

// applyDismiss hides any active overlay, invalidates every pending entry and
// returns to idle.
func (s *Scheduler) applyDismiss() {
	if s.state == StateShowing {
		s.sink.Hide()
	}
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if s.active != nil {
		s.invalidate(s.active)
		s.active = nil
	}
	for _, e := range s.queue {
		s.invalidate(e)
	}
	if n := len(s.queue); n > 0 {
		s.logger.Debug("discarded pending queue", "count", n)
	}
	s.queue = nil
	s.state = StateIdle
}

func (s *Scheduler) applySetMaxQueue(max int) {
	s.maxQueue = max
	for len(s.queue) > s.maxQueue {
		evicted := s.queue[0]
		s.queue = s.queue[1:]
		s.invalidate(evicted)
		s.bumpEvicted()
	}
	s.logger.Debug("queue bound updated", "max_queue", max)
}

// advance pops display-ready entries off the front of the queue while idle.
// A front entry still waiting on media blocks advancement (FIFO order is
// never broken); a sink failure discards the entry and tries the next one.
func (s *Scheduler) advance() {
	for s.state == StateIdle && len(s.queue) > 0 {
		front := s.queue[0]
		if !front.ready {
			return
		}
		s.queue = s.queue[1:]

		content := render.Content{
			Title:   front.batch.Title,
			Body:    front.batch.Body,
			IsGroup: front.batch.IsGroup,
			Group:   front.batch.GroupName,
			Media:   front.asset,
		}

		if err := s.sink.Show(content, front.slot, front.batch.Duration); err != nil {
			s.bumpSinkFailure()
			s.logger.Error("render sink rejected show command, skipping entry",
				"batch_id", front.batch.ID,
				"error", err,
			)
			continue
		}

		s.state = StateShowing
		s.active = front
		s.bumpShown()
		s.armExpiry(front)

		s.logger.Info("showing overlay",
			"batch_id", front.batch.ID,
			"title", front.batch.Title,
			"slot", string(front.slot),
			"duration", front.batch.Duration,
		)
	}
}

// armExpiry schedules the auto-dismiss tick for the active entry.
func (s *Scheduler) armExpiry(e *entry) {
	if s.expiry != nil {
		s.expiry.Stop()
	}
	seq := e.seq
	s.expiry = time.AfterFunc(e.batch.Duration, func() {
		s.send(intent{kind: intentTick, seq: seq})
	})
}

// invalidate cancels an entry's in-flight fetch so a late completion cannot
// resurrect removed state.
func (s *Scheduler) invalidate(e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// publishStats copies run-loop state into the snapshot readable by Stats().
func (s *Scheduler) publishStats() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.State = s.state.String()
	s.stats.QueueDepth = len(s.queue)
	if s.active != nil {
		s.stats.ActiveTitle = s.active.batch.Title
	} else {
		s.stats.ActiveTitle = ""
	}
}

func (s *Scheduler) bumpEnqueued() {
	s.statsMu.Lock()
	s.stats.Enqueued++
	s.statsMu.Unlock()
}

func (s *Scheduler) bumpShown() {
	s.statsMu.Lock()
	s.stats.Shown++
	s.statsMu.Unlock()
}

func (s *Scheduler) bumpEvicted() {
	s.statsMu.Lock()
	s.stats.Evicted++
	s.statsMu.Unlock()
}

func (s *Scheduler) bumpMediaFailure() {
	s.statsMu.Lock()
	s.stats.MediaFailures++
	s.statsMu.Unlock()
}

func (s *Scheduler) bumpSinkFailure() {
	s.statsMu.Lock()
	s.stats.SinkFailures++
	s.statsMu.Unlock()
}

func (s *Scheduler) bumpStale() {
	s.statsMu.Lock()
	s.stats.StaleSignals++
	s.statsMu.Unlock()
}
