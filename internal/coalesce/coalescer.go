// Package coalesce collapses bursts of store mutations into single outbound
// writes. Each collection key holds at most one pending write; a newer
// mutation cancels and replaces the scheduled one instead of queueing behind
// it, which is correct because every write carries a full-collection snapshot.
package coalesce

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is the unit of scheduled work: the snapshot that will be written for
// a collection key on behalf of a user.
type Entry struct {
	UserID string
	Key    string
	Value  any
}

// Config groups the coalescer tunables. Zero values fall back to the
// production defaults in New.
type Config struct {
	DefaultDebounce    time.Duration // baseline delay between mutation and write
	MaxWritesPerMinute int           // rolling-window cap across all keys
	RateWindow         time.Duration // rolling window size
	RescheduleDelay    time.Duration // retry delay when the window is saturated

	// Admit is consulted at fire time; returning false drops the write
	// (quota protection). Leave nil to admit everything.
	Admit func() bool

	// OnPendingChange receives the pending-write count after every
	// transition, feeding the UI sync indicator. Leave nil if unused.
	OnPendingChange func(n int)

	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

type pendingWrite struct {
	timer *time.Timer
	entry Entry
	gen   uint64 // bumped on every replace; a stale fire must not deliver
}

// Coalescer is safe for concurrent use.
type Coalescer struct {
	cfg     Config
	sink    func(Entry)
	limiter *limiter

	mu      sync.Mutex
	pending map[string]*pendingWrite
	nextGen uint64
	closed  bool
}

// New constructs a Coalescer that delivers admitted entries to sink. The sink
// runs on timer goroutines and may block on network I/O.
func New(cfg Config, sink func(Entry)) *Coalescer {
	if cfg.DefaultDebounce <= 0 {
		cfg.DefaultDebounce = 1500 * time.Millisecond
	}
	if cfg.MaxWritesPerMinute <= 0 {
		cfg.MaxWritesPerMinute = 60
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RescheduleDelay <= 0 {
		cfg.RescheduleDelay = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coalescer{
		cfg:     cfg,
		sink:    sink,
		limiter: newLimiter(cfg.MaxWritesPerMinute, cfg.RateWindow, cfg.Now),
		pending: make(map[string]*pendingWrite),
	}
}

// Schedule arranges for entry to be written after debounce elapses. A zero
// debounce uses the configured default. If a write for the same key is
// already scheduled its timer is cancelled and its payload replaced.
func (c *Coalescer) Schedule(entry Entry, debounce time.Duration) {
	if debounce <= 0 {
		debounce = c.cfg.DefaultDebounce
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if p, ok := c.pending[entry.Key]; ok {
		// Replacing bumps the generation: a fire already past its timer
		// but not yet holding the lock sees the moved generation and
		// bails, so the new debounce window is honoured.
		p.timer.Stop()
		c.nextGen++
		p.entry = entry
		p.gen = c.nextGen
		p.timer = c.fireAfter(entry.Key, p.gen, debounce)
		c.mu.Unlock()
		writesCoalescedTotal.Inc()
		return
	}

	c.nextGen++
	gen := c.nextGen
	c.pending[entry.Key] = &pendingWrite{
		entry: entry,
		gen:   gen,
		timer: c.fireAfter(entry.Key, gen, debounce),
	}
	notify := c.notifyPendingLocked()
	c.mu.Unlock()
	writesScheduledTotal.Inc()
	if notify != nil {
		notify()
	}
}

func (c *Coalescer) fireAfter(key string, gen uint64, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() { c.fire(key, gen) })
}

// fire runs on the timer goroutine when a debounce window closes.
func (c *Coalescer) fire(key string, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || c.closed || p.gen != gen {
		// Flushed or superseded after the timer went off.
		c.mu.Unlock()
		return
	}

	if !c.limiter.Allow() {
		// Saturated window: never drop, retry after a fixed delay. The
		// retry keeps the entry's original fire order relative to other
		// saturated keys because every retry gets the same delay.
		rateLimitReschedulesTotal.Inc()
		p.timer = c.fireAfter(key, gen, c.cfg.RescheduleDelay)
		c.mu.Unlock()
		log.Debug().Str("key", key).Dur("delay", c.cfg.RescheduleDelay).Msg("coalesce: rate limited, rescheduled")
		return
	}

	entry := p.entry
	delete(c.pending, key)
	notify := c.notifyPendingLocked()

	if c.cfg.Admit != nil && !c.cfg.Admit() {
		// Quota ceiling: drop to protect the account. In-memory state
		// stays authoritative and the next mutation retries.
		writesBlockedQuotaTotal.Inc()
		c.mu.Unlock()
		if notify != nil {
			notify()
		}
		log.Warn().Str("key", key).Msg("coalesce: write blocked by quota")
		return
	}
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	c.sink(entry)
}

// FlushAll cancels every scheduled timer and hands the pending entries to the
// sink immediately, fire-and-forget. Entries are cleared synchronously before
// FlushAll returns so an unload handler observes an empty schedule. Flushed
// writes bypass the rate limiter and quota admission to minimise loss.
func (c *Coalescer) FlushAll() {
	c.mu.Lock()
	entries := make([]Entry, 0, len(c.pending))
	for key, p := range c.pending {
		p.timer.Stop()
		entries = append(entries, p.entry)
		delete(c.pending, key)
	}
	var notify func()
	if len(entries) > 0 {
		notify = c.notifyPendingLocked()
	}
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	for _, e := range entries {
		go c.sink(e)
	}
	if len(entries) > 0 {
		flushedWritesTotal.Add(float64(len(entries)))
	}
}

// Pending returns the number of collection keys with a scheduled write.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels all timers without firing them. Further Schedule calls are
// no-ops.
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
	notify := c.notifyPendingLocked()
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// notifyPendingLocked snapshots the pending count and returns the listener
// invocation to run after the lock is released, so a listener may call back
// into Schedule without deadlocking. Returns nil when no listener is set.
func (c *Coalescer) notifyPendingLocked() func() {
	n := len(c.pending)
	pendingWritesGauge.Set(float64(n))
	fn := c.cfg.OnPendingChange
	if fn == nil {
		return nil
	}
	return func() { fn(n) }
}
