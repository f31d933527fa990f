package syncstore

// Package-level docs live in doc.go. The Manager wires the pieces together:
// identity resolution, payload cleaning, debounced coalescing with rate and
// quota protection, the remote document gateway, and the SQLite-backed local
// cache that doubles as the offline write queue.

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/projeto67/syncstore/internal/coalesce"
	"github.com/projeto67/syncstore/internal/docstore"
	"github.com/projeto67/syncstore/internal/identity"
	"github.com/projeto67/syncstore/internal/localcache"
	"github.com/projeto67/syncstore/internal/payload"
	"github.com/projeto67/syncstore/internal/quota"
)

// Manager is the sync entry point shared by every store. All methods are safe
// for concurrent use.
type Manager struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	gateway *docstore.Client
	cache   *localcache.Cache // nil when the cache file could not be opened
	quota   *quota.Tracker
	ident   *identity.Resolver
	coal    *coalesce.Coalescer

	rootCtx    context.Context
	rootCancel context.CancelFunc

	pending     int32 // mirrors the coalescer's pending count
	pendingMu   sync.Mutex
	pendingSubs map[int]func(int)
	pendingSeq  int

	replayMu sync.Mutex

	closedOnce uint32 // ensures Close is idempotent
}

// New constructs a Manager talking to the document gateway at baseURL.
// currentUser returns the live authenticated user id, or "" while auth state
// is unresolved. Additional options can be provided via functional arguments.
func New(baseURL string, currentUser func() string, opts ...Option) *Manager {
	if baseURL == "" {
		panic("baseURL cannot be empty")
	}
	if currentUser == nil {
		panic("currentUser cannot be nil")
	}

	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}

	m := &Manager{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.HTTPTimeout},
		now:         time.Now,
		pendingSubs: make(map[int]func(int)),
	}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			panic(err)
		}
	}

	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())
	m.gateway = docstore.New(baseURL, m.http)

	cache, err := localcache.Open(m.cfg.CachePath)
	if err != nil {
		log.Warn().Err(err).Str("path", m.cfg.CachePath).Msg("local cache unavailable, continuing without persistence")
	} else {
		m.cache = cache
	}

	kv := cacheKV{m.cache}
	m.quota = quota.New(kv, quota.WithClock(m.now))
	m.ident = identity.New(currentUser, kv, func() int64 { return m.now().UnixMilli() })

	m.coal = coalesce.New(coalesce.Config{
		DefaultDebounce:    m.cfg.Debounce,
		MaxWritesPerMinute: m.cfg.MaxWritesPerMinute,
		RateWindow:         m.cfg.RateWindow,
		RescheduleDelay:    m.cfg.RescheduleDelay,
		Admit:              m.admitWrite,
		OnPendingChange:    m.onPendingChange,
		Now:                m.now,
	}, m.performWrite)

	return m
}

// cacheKV adapts *localcache.Cache to the string-valued stores the quota
// tracker and identity resolver expect. A nil cache degrades to errors, which
// both consumers treat as absence.
type cacheKV struct{ c *localcache.Cache }

func (k cacheKV) Put(namespace, key, rawValue string, updatedAt int64) error {
	if k.c == nil {
		return localcache.ErrNotFound
	}
	return k.c.Put(namespace, key, rawValue, updatedAt)
}

func (k cacheKV) Get(namespace, key string) (string, error) {
	if k.c == nil {
		return "", localcache.ErrNotFound
	}
	e, err := k.c.Get(namespace, key)
	if err != nil {
		return "", err
	}
	return e.RawValue, nil
}

// writeSettings carries per-call overrides for Write.
type writeSettings struct {
	debounce time.Duration
}

// WriteOption adjusts a single Write call.
type WriteOption func(*writeSettings)

// WithWriteDebounce overrides the debounce interval for this write. Use the
// Debounce* constants to match a store's mutation cadence.
func WithWriteDebounce(d time.Duration) WriteOption {
	return func(w *writeSettings) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Write schedules a debounced full-snapshot write of value under the caller's
// collection key. Values are cleaned of Undefined members first so the JSON
// sent upstream mirrors what a browser client would produce. Writes issued
// while no identity is available are dropped with a warning; mutations remain
// visible locally through the caller's own store state.
func (m *Manager) Write(collectionKey string, value any, opts ...WriteOption) {
	if atomic.LoadUint32(&m.closedOnce) == 1 {
		return
	}
	uid := m.ident.Resolve()
	if uid == "" {
		writesNoIdentityTotal.Inc()
		log.Warn().Str("collection", collectionKey).Msg("sync write dropped: no user identity")
		return
	}
	ws := writeSettings{debounce: m.cfg.Debounce}
	for _, opt := range opts {
		opt(&ws)
	}
	m.coal.Schedule(coalesce.Entry{
		UserID: uid,
		Key:    collectionKey,
		Value:  payload.Clean(value),
	}, ws.debounce)
}

// admitWrite is the coalescer's fire-time quota gate. It only checks the
// ceiling; usage is counted when the remote write is confirmed, so a failed
// attempt does not consume quota and a replayed one is charged exactly once.
func (m *Manager) admitWrite() bool {
	if m.quota.IsExceeded() {
		log.Warn().Msg("sync write dropped: daily quota exceeded")
		return false
	}
	return true
}

// performWrite is the coalescer sink. It runs on timer goroutines.
func (m *Manager) performWrite(e coalesce.Entry) {
	raw, err := json.Marshal(e.Value)
	if err != nil {
		log.Error().Err(err).Str("collection", e.Key).Msg("sync write dropped: payload not serialisable")
		return
	}
	ts := m.now().UnixMilli()
	env := docstore.Envelope{Value: raw, UpdatedAt: ts}

	if err := m.gateway.SetDocument(m.rootCtx, e.UserID, e.Key, env); err != nil {
		if docstore.IsRecoverable(err) {
			remoteWriteFailuresTotal.WithLabelValues("recoverable").Inc()
			log.Warn().Err(err).Str("collection", e.Key).Msg("remote write failed, queued for replay")
			if m.cache != nil {
				if qerr := m.cache.PutDirty(e.UserID, e.Key, string(raw), ts); qerr != nil {
					log.Warn().Err(qerr).Str("collection", e.Key).Msg("offline queue write failed")
				}
			}
		} else {
			remoteWriteFailuresTotal.WithLabelValues("irrecoverable").Inc()
			log.Error().Err(err).Str("collection", e.Key).Msg("remote write rejected")
		}
		return
	}

	remoteWritesTotal.Inc()
	m.quota.IncrementWrites()
	m.quota.Notify()
	if m.cache != nil {
		if cerr := m.cache.Put(e.UserID, e.Key, string(raw), ts); cerr != nil {
			log.Warn().Err(cerr).Str("collection", e.Key).Msg("cache mirror failed")
		}
	}
	m.replayDirty(e.UserID)
}

// replayDirty pushes queued offline writes upstream, oldest first. It runs
// after every confirmed write; a failure stops the replay until the next
// opportunity. TryLock keeps concurrent sinks from replaying the same queue.
func (m *Manager) replayDirty(userID string) {
	if m.cache == nil {
		return
	}
	if !m.replayMu.TryLock() {
		return
	}
	defer m.replayMu.Unlock()

	entries, err := m.cache.DirtyEntries(userID)
	if err != nil {
		log.Warn().Err(err).Msg("offline queue scan failed")
		return
	}
	for _, ent := range entries {
		env := docstore.Envelope{Value: json.RawMessage(ent.RawValue), UpdatedAt: ent.UpdatedAt}
		if err := m.gateway.SetDocument(m.rootCtx, userID, ent.Key, env); err != nil {
			if docstore.IsRecoverable(err) {
				log.Warn().Err(err).Str("collection", ent.Key).Msg("offline replay failed, will retry")
				return
			}
			// The snapshot is permanently rejected; drop it from the
			// queue so it cannot wedge the replay.
			log.Error().Err(err).Str("collection", ent.Key).Msg("offline replay rejected")
			_ = m.cache.ClearDirty(userID, ent.Key)
			continue
		}
		if err := m.cache.ClearDirty(userID, ent.Key); err != nil {
			log.Warn().Err(err).Str("collection", ent.Key).Msg("offline queue clear failed")
		}
		dirtyReplayedTotal.Inc()
		m.quota.IncrementWrites()
		m.quota.Notify()
	}
}

// Subscribe opens a watch on the caller's collection document. onData receives
// the raw document value on every change, or nil when the document does not
// exist (a valid terminal state for first-time users). The returned function
// cancels the watch. When no identity is available the subscription is a
// no-op and the returned function does nothing.
func (m *Manager) Subscribe(collectionKey string, onData func(json.RawMessage), onError func(error)) func() {
	uid := m.ident.Resolve()
	if uid == "" {
		log.Warn().Str("collection", collectionKey).Msg("subscribe skipped: no user identity")
		return func() {}
	}
	return m.gateway.Watch(m.rootCtx, uid, collectionKey, func(ev docstore.WatchEvent) {
		m.quota.IncrementReads()
		m.quota.Notify()
		remoteReadsTotal.Inc()
		if !ev.Exists {
			onData(nil)
			return
		}
		if m.cache != nil {
			if err := m.cache.Put(uid, collectionKey, string(ev.Envelope.Value), ev.Envelope.UpdatedAt); err != nil {
				log.Warn().Err(err).Str("collection", collectionKey).Msg("cache mirror failed")
			}
		}
		onData(ev.Envelope.Value)
	}, onError)
}

// FetchSnapshot performs a one-shot remote read of the collection document,
// counting it against the read quota and mirroring the result into the local
// cache. Returns ErrNotFound when the document has never been written and
// ErrNoIdentity when no user id is available.
func (m *Manager) FetchSnapshot(ctx context.Context, collectionKey string) (*Envelope, error) {
	uid := m.ident.Resolve()
	if uid == "" {
		return nil, ErrNoIdentity
	}
	env, err := m.gateway.GetDocument(ctx, uid, collectionKey)
	if err != nil {
		return nil, err
	}
	m.quota.IncrementReads()
	m.quota.Notify()
	remoteReadsTotal.Inc()
	if m.cache != nil {
		if cerr := m.cache.Put(uid, collectionKey, string(env.Value), env.UpdatedAt); cerr != nil {
			log.Warn().Err(cerr).Str("collection", collectionKey).Msg("cache mirror failed")
		}
	}
	return env, nil
}

// CachedSnapshot returns the locally cached document for the collection, or
// ErrNotFound. It resolves the current identity and falls back to the guest
// namespace, so pre-auth sessions still see their own data.
func (m *Manager) CachedSnapshot(collectionKey string) (json.RawMessage, int64, error) {
	if m.cache == nil {
		return nil, 0, ErrNotFound
	}
	ns := m.ident.Resolve()
	if ns == "" {
		ns = localcache.GuestNamespace
	}
	e, err := m.cache.Get(ns, collectionKey)
	if err != nil {
		if ns != localcache.GuestNamespace {
			e, err = m.cache.Get(localcache.GuestNamespace, collectionKey)
		}
		if err != nil {
			return nil, 0, ErrNotFound
		}
	}
	return json.RawMessage(e.RawValue), e.UpdatedAt, nil
}

// FlushAll synchronously clears every pending debounce timer and dispatches
// the captured payloads upstream, bypassing the rate limiter and the quota
// gate. Queued offline writes are replayed as well. Call it on shutdown or
// when the app is about to lose foreground.
func (m *Manager) FlushAll() {
	m.coal.FlushAll()
	if uid := m.ident.Resolve(); uid != "" {
		go m.replayDirty(uid)
	}
}

// PendingWrites returns the number of coalesced writes awaiting dispatch.
func (m *Manager) PendingWrites() int {
	return int(atomic.LoadInt32(&m.pending))
}

// SubscribePending registers fn to receive the pending-write count after every
// transition. Callbacks run on the scheduling path and must return quickly.
// The returned function removes the registration.
func (m *Manager) SubscribePending(fn func(int)) func() {
	m.pendingMu.Lock()
	id := m.pendingSeq
	m.pendingSeq++
	m.pendingSubs[id] = fn
	m.pendingMu.Unlock()
	return func() {
		m.pendingMu.Lock()
		delete(m.pendingSubs, id)
		m.pendingMu.Unlock()
	}
}

func (m *Manager) onPendingChange(n int) {
	atomic.StoreInt32(&m.pending, int32(n))
	m.pendingMu.Lock()
	fns := make([]func(int), 0, len(m.pendingSubs))
	for _, fn := range m.pendingSubs {
		fns = append(fns, fn)
	}
	m.pendingMu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// Usage returns today's remote-operation counters.
func (m *Manager) Usage() UsageStats { return m.quota.Usage() }

// QuotaExceeded reports whether today's usage has reached the daily limit.
func (m *Manager) QuotaExceeded() bool { return m.quota.IsExceeded() }

// QuotaWarning reports whether today's usage crossed the warning threshold.
func (m *Manager) QuotaWarning() bool { return m.quota.IsWarning() }

// SubscribeQuota registers fn to run after every counted remote operation.
// The returned function removes the registration.
func (m *Manager) SubscribeQuota(fn func()) func() { return m.quota.Subscribe(fn) }

// Close cancels pending timers and watches and closes the cache. Pending
// writes are not dispatched; call FlushAll first if delivery matters. Safe to
// call multiple times.
func (m *Manager) Close() error {
	if !atomic.CompareAndSwapUint32(&m.closedOnce, 0, 1) {
		return nil
	}
	m.coal.Close()
	m.rootCancel()
	if m.cache != nil {
		return m.cache.Close()
	}
	return nil
}
