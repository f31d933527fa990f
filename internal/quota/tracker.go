// Package quota tracks daily remote-operation usage against a hard account
// ceiling. The record is persisted locally and resets at the calendar-day
// boundary. Persistence is best effort: when the backing store is unavailable
// the tracker behaves as if usage were fresh rather than blocking the app.
package quota

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DailyLimit is the total remote operations (writes + reads) admitted
	// per calendar day.
	DailyLimit = 20000

	// WarningThreshold is the usage fraction at which the UI should start
	// surfacing the quota indicator.
	WarningThreshold = 0.85

	// RecordKey is the fixed local-storage key for the quota record.
	RecordKey = "__syncstore_quota"

	recordNamespace = "__quota"
)

// Record is the persisted daily counter.
type Record struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Writes int    `json:"writes"`
	Reads  int    `json:"reads"`
}

// UsageStats is a read-only view for display surfaces.
type UsageStats struct {
	Date       string  `json:"date"`
	Writes     int     `json:"writes"`
	Reads      int     `json:"reads"`
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
	Warning    bool    `json:"warning"`
	Exceeded   bool    `json:"exceeded"`
}

// Store abstracts the local persistence the tracker writes through.
// *localcache.Cache satisfies it.
type Store interface {
	Put(namespace, key, rawValue string, updatedAt int64) error
	Get(namespace, key string) (rawValue string, err error)
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	store     Store
	now       func() time.Time
	listeners map[int]func()
	nextID    int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New constructs a Tracker. store may be nil, in which case every read sees a
// fresh record and increments are lost on restart.
func New(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		now:       time.Now,
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) today() string {
	return t.now().Format("2006-01-02")
}

// load reads the persisted record, resetting it if the stored date is stale.
// Persistence failures yield a zeroed record for today (fail open).
func (t *Tracker) load() Record {
	today := t.today()
	if t.store == nil {
		return Record{Date: today}
	}
	raw, err := t.store.Get(recordNamespace, RecordKey)
	if err != nil {
		return Record{Date: today}
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Warn().Err(err).Msg("quota: corrupt record, resetting")
		return Record{Date: today}
	}
	if rec.Date != today {
		return Record{Date: today}
	}
	return rec
}

func (t *Tracker) save(rec Record) {
	if t.store == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := t.store.Put(recordNamespace, RecordKey, string(raw), t.now().UnixMilli()); err != nil {
		log.Warn().Err(err).Msg("quota: persist failed")
	}
}

// IncrementWrites admits and records one remote write. It returns false
// without incrementing when the daily limit has been reached.
func (t *Tracker) IncrementWrites() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.load()
	if rec.Writes+rec.Reads >= DailyLimit {
		return false
	}
	rec.Writes++
	t.save(rec)
	return true
}

// IncrementReads records one remote read. Reads are tracked but never blocked
// so read-driven UI reactivity survives near-quota conditions.
func (t *Tracker) IncrementReads() {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.load()
	rec.Reads++
	t.save(rec)
}

// IsExceeded reports whether today's usage has reached the daily limit.
func (t *Tracker) IsExceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.load()
	return rec.Writes+rec.Reads >= DailyLimit
}

// IsWarning reports whether today's usage crossed the warning threshold.
func (t *Tracker) IsWarning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.load()
	return float64(rec.Writes+rec.Reads) >= WarningThreshold*DailyLimit
}

// Usage returns the current counters for display.
func (t *Tracker) Usage() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.load()
	total := rec.Writes + rec.Reads
	return UsageStats{
		Date:       rec.Date,
		Writes:     rec.Writes,
		Reads:      rec.Reads,
		Total:      total,
		Limit:      DailyLimit,
		Percentage: float64(total) / float64(DailyLimit),
		Warning:    float64(total) >= WarningThreshold*DailyLimit,
		Exceeded:   total >= DailyLimit,
	}
}

// Subscribe registers fn to run on Notify. The returned function removes the
// registration and is safe to call more than once.
func (t *Tracker) Subscribe(fn func()) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Notify invokes every subscribed listener. Called by the sync layer after
// each successful remote operation.
func (t *Tracker) Notify() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
