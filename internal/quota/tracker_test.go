package quota

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// memStore is an in-memory quota.Store.
type memStore struct {
	values map[string]string
	fail   bool
}

func newMemStore() *memStore { return &memStore{values: make(map[string]string)} }

func (m *memStore) Put(namespace, key, rawValue string, _ int64) error {
	if m.fail {
		return errors.New("store unavailable")
	}
	m.values[namespace+"::"+key] = rawValue
	return nil
}

func (m *memStore) Get(namespace, key string) (string, error) {
	if m.fail {
		return "", errors.New("store unavailable")
	}
	v, ok := m.values[namespace+"::"+key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func fixedClock(s string) func() time.Time {
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}

func seed(t *testing.T, s *memStore, rec Record) {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := s.Put(recordNamespace, RecordKey, string(raw), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestIncrementWritesAdmitsUpToLimit(t *testing.T) {
	s := newMemStore()
	tr := New(s, WithClock(fixedClock("2026-08-31")))
	seed(t, s, Record{Date: "2026-08-31", Writes: DailyLimit - 1, Reads: 0})

	if !tr.IncrementWrites() {
		t.Fatalf("write at limit-1 should be admitted")
	}
	if tr.IncrementWrites() {
		t.Fatalf("write at limit should be rejected")
	}
	// The rejected call must not have incremented.
	u := tr.Usage()
	if u.Writes != DailyLimit {
		t.Fatalf("writes = %d, want %d", u.Writes, DailyLimit)
	}
	if !u.Exceeded {
		t.Fatalf("expected exceeded")
	}
}

func TestDailyReset(t *testing.T) {
	s := newMemStore()
	seed(t, s, Record{Date: "2026-08-30", Writes: 19000, Reads: 900})

	tr := New(s, WithClock(fixedClock("2026-08-31")))
	u := tr.Usage()
	if u.Total != 0 {
		t.Fatalf("stale record should read as zero usage, got %d", u.Total)
	}
	if tr.IsExceeded() {
		t.Fatalf("fresh day must not be exceeded")
	}
}

func TestReadsCountedButNeverBlocked(t *testing.T) {
	s := newMemStore()
	tr := New(s, WithClock(fixedClock("2026-08-31")))
	seed(t, s, Record{Date: "2026-08-31", Writes: DailyLimit, Reads: 0})

	tr.IncrementReads()
	u := tr.Usage()
	if u.Reads != 1 {
		t.Fatalf("reads = %d, want 1", u.Reads)
	}
}

func TestWarningThreshold(t *testing.T) {
	s := newMemStore()
	tr := New(s, WithClock(fixedClock("2026-08-31")))

	seed(t, s, Record{Date: "2026-08-31", Writes: 16999})
	if tr.IsWarning() {
		t.Fatalf("below threshold must not warn")
	}
	seed(t, s, Record{Date: "2026-08-31", Writes: 17000})
	if !tr.IsWarning() {
		t.Fatalf("85%% usage must warn")
	}
}

func TestFailOpenWhenStoreUnavailable(t *testing.T) {
	s := newMemStore()
	s.fail = true
	tr := New(s, WithClock(fixedClock("2026-08-31")))

	if tr.IsExceeded() {
		t.Fatalf("unavailable store must read as fresh quota")
	}
	if !tr.IncrementWrites() {
		t.Fatalf("increment against unreadable record must admit")
	}
}

func TestSubscribeNotifyUnsubscribe(t *testing.T) {
	tr := New(nil)
	var calls int32
	unsub := tr.Subscribe(func() { atomic.AddInt32(&calls, 1) })

	tr.Notify()
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("listener not invoked")
	}
	unsub()
	unsub() // safe to call twice
	tr.Notify()
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("listener invoked after unsubscribe")
	}
}
