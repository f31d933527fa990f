// Package syncstore is the offline-tolerant sync layer for Projeto 67 Dias.
// It debounces and coalesces per-collection writes, enforces a rolling-window
// rate limit and a daily operation quota, mirrors every confirmed document
// into a SQLite cache, queues failed writes for replay, and streams remote
// changes back to the stores over a watch connection.
//
// Typical wiring:
//
//	mgr := syncstore.New(baseURL, session.UserID)
//	defer mgr.Close()
//	stop := mgr.FlushOnShutdown(ctx)
//	defer stop()
//
//	habits := store.NewHabits(func(key string, payload any) {
//	    mgr.Write(key, payload, syncstore.WithWriteDebounce(syncstore.DebounceDefault))
//	}, func() int64 { return time.Now().UnixMilli() })
//	unsub := mgr.Subscribe(store.HabitsKey, habits.ApplyRemoteSnapshot, nil)
//	defer unsub()
package syncstore
