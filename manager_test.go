package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingServer captures every document PUT it accepts.
type recordingServer struct {
	mu     sync.Mutex
	puts   []recordedPut
	reject func(path string, n int) bool // nil accepts everything
	counts map[string]int
}

type recordedPut struct {
	path string
	env  Envelope
}

func newRecordingServer() *recordingServer {
	return &recordingServer{counts: make(map[string]int)}
}

func (rs *recordingServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rs.mu.Lock()
		rs.counts[r.URL.Path]++
		n := rs.counts[r.URL.Path]
		rejected := rs.reject != nil && rs.reject(r.URL.Path, n)
		if !rejected {
			rs.puts = append(rs.puts, recordedPut{path: r.URL.Path, env: env})
		}
		rs.mu.Unlock()
		if rejected {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (rs *recordingServer) accepted() []recordedPut {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]recordedPut, len(rs.puts))
	copy(out, rs.puts)
	return out
}

func newTestManager(t *testing.T, baseURL string, user string, opts ...Option) *Manager {
	t.Helper()
	all := append([]Option{
		WithCachePath(":memory:"),
		WithDebounce(40 * time.Millisecond),
	}, opts...)
	m := New(baseURL, func() string { return user }, all...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestWriteBurstCoalescesToSingleRemoteWrite(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1")

	for i := 0; i < 5; i++ {
		m.Write("habits", map[string]any{"rev": i})
	}
	time.Sleep(250 * time.Millisecond)

	puts := rs.accepted()
	if len(puts) != 1 {
		t.Fatalf("expected 1 remote write, got %d", len(puts))
	}
	if puts[0].path != "/v1/users/u1/data/habits" {
		t.Fatalf("unexpected path %s", puts[0].path)
	}
	var body map[string]any
	if err := json.Unmarshal(puts[0].env.Value, &body); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if body["rev"] != float64(4) {
		t.Fatalf("expected last payload to win, got rev=%v", body["rev"])
	}
	if puts[0].env.UpdatedAt == 0 {
		t.Fatalf("expected non-zero updatedAt")
	}
	if got := m.Usage().Writes; got != 1 {
		t.Fatalf("expected quota to count 1 write, got %d", got)
	}
}

func TestWriteWithoutIdentityIsDropped(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "")

	m.Write("habits", map[string]any{"rev": 1})
	time.Sleep(150 * time.Millisecond)

	if got := len(rs.accepted()); got != 0 {
		t.Fatalf("expected no remote writes, got %d", got)
	}
	if got := m.PendingWrites(); got != 0 {
		t.Fatalf("expected no pending writes, got %d", got)
	}
}

func TestPendingCountTransitions(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1")

	var mu sync.Mutex
	var seen []int
	unsub := m.SubscribePending(func(n int) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})
	defer unsub()

	m.Write("habits", map[string]any{"rev": 1})
	if got := m.PendingWrites(); got != 1 {
		t.Fatalf("expected 1 pending write, got %d", got)
	}
	time.Sleep(200 * time.Millisecond)

	if got := m.PendingWrites(); got != 0 {
		t.Fatalf("expected 0 pending writes, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != 1 || seen[len(seen)-1] != 0 {
		t.Fatalf("expected transitions 1..0, got %v", seen)
	}
}

func TestFlushAllDeliversPendingImmediately(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1", WithDebounce(time.Hour))

	m.Write("habits", map[string]any{"rev": 1})
	m.Write("skills", map[string]any{"rev": 2})
	m.FlushAll()

	if got := m.PendingWrites(); got != 0 {
		t.Fatalf("expected flush to clear pending writes, got %d", got)
	}
	time.Sleep(200 * time.Millisecond)
	if got := len(rs.accepted()); got != 2 {
		t.Fatalf("expected 2 flushed writes, got %d", got)
	}
}

func TestRecoverableFailureQueuesAndReplays(t *testing.T) {
	rs := newRecordingServer()
	rs.reject = func(path string, n int) bool {
		// First attempt for the habits document fails, everything else
		// succeeds.
		return path == "/v1/users/u1/data/habits" && n == 1
	}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1")

	m.Write("habits", map[string]any{"rev": 1})
	time.Sleep(150 * time.Millisecond)
	if got := len(rs.accepted()); got != 0 {
		t.Fatalf("expected the first write to fail, got %d accepted", got)
	}

	// The next confirmed write replays the queued snapshot.
	m.Write("skills", map[string]any{"rev": 2})
	time.Sleep(250 * time.Millisecond)

	paths := map[string]bool{}
	for _, p := range rs.accepted() {
		paths[p.path] = true
	}
	if !paths["/v1/users/u1/data/skills"] {
		t.Fatalf("expected the skills write to land")
	}
	if !paths["/v1/users/u1/data/habits"] {
		t.Fatalf("expected the queued habits write to be replayed")
	}

	// The failed attempt consumed no quota; each confirmed write (including
	// the replay) is charged exactly once.
	if got := m.Usage().Writes; got != 2 {
		t.Fatalf("expected 2 counted writes, got %d", got)
	}
}

func TestWriteAfterSuccessIsCachedLocally(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1")

	m.Write("habits", map[string]any{"rev": 7})
	time.Sleep(200 * time.Millisecond)

	raw, updatedAt, err := m.CachedSnapshot("habits")
	if err != nil {
		t.Fatalf("cached snapshot: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode cached value: %v", err)
	}
	if body["rev"] != float64(7) {
		t.Fatalf("unexpected cached payload: %v", body)
	}
	if updatedAt == 0 {
		t.Fatalf("expected non-zero cached timestamp")
	}
}

func TestFetchSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/u1/data/habits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":{"rev":9},"updatedAt":1700000000000}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1")

	env, err := m.FetchSnapshot(context.Background(), "habits")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if env.UpdatedAt != 1700000000000 {
		t.Fatalf("unexpected updatedAt %d", env.UpdatedAt)
	}
	if got := m.Usage().Reads; got != 1 {
		t.Fatalf("expected 1 counted read, got %d", got)
	}

	// The fetched snapshot is mirrored locally.
	raw, _, err := m.CachedSnapshot("habits")
	if err != nil {
		t.Fatalf("cached snapshot: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode cached value: %v", err)
	}
	if body["rev"] != float64(9) {
		t.Fatalf("unexpected cached payload: %v", body)
	}

	// Missing documents surface ErrNotFound.
	if _, err := m.FetchSnapshot(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchSnapshotWithoutIdentity(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "")
	if _, err := m.FetchSnapshot(context.Background(), "habits"); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestSubscribeDeliversRemoteSnapshots(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/u1/data/habits/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		ev := map[string]any{
			"exists": true,
			"envelope": map[string]any{
				"value":     map[string]any{"rev": 3},
				"updatedAt": 1700000000000,
			},
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := newTestManager(t, srv.URL, "u1")

	got := make(chan json.RawMessage, 1)
	unsub := m.Subscribe("habits", func(raw json.RawMessage) {
		select {
		case got <- raw:
		default:
		}
	}, nil)
	defer unsub()

	select {
	case raw := <-got:
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if body["rev"] != float64(3) {
			t.Fatalf("unexpected snapshot: %v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}

	if got := m.Usage().Reads; got < 1 {
		t.Fatalf("expected quota to count reads, got %d", got)
	}
}

func TestSubscribeWithoutIdentityIsNoop(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL, "")

	unsub := m.Subscribe("habits", func(json.RawMessage) {
		t.Errorf("unexpected snapshot delivery")
	}, nil)
	unsub() // must be safe
	time.Sleep(100 * time.Millisecond)
}

func TestEnvDebugLoggingUsesDefaultTransport(t *testing.T) {
	t.Setenv("SYNC_DEBUG", "true")

	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	// New auto-installs the debug transport when SYNC_DEBUG is set; the
	// default http.Client carries no Transport, so the wrapper must fall
	// back to http.DefaultTransport instead of dereferencing nil.
	m := newTestManager(t, srv.URL, "u1")

	m.Write("habits", map[string]any{"rev": 1})
	time.Sleep(200 * time.Millisecond)

	if got := len(rs.accepted()); got != 1 {
		t.Fatalf("expected 1 remote write with debug logging enabled, got %d", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	m := New(srv.URL, func() string { return "u1" }, WithCachePath(":memory:"))
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Writes after close are ignored.
	m.Write("habits", map[string]any{"rev": 1})
}
