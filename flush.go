package syncstore

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// FlushOnShutdown installs a signal handler that flushes pending writes when
// the process receives SIGINT or SIGTERM, or when ctx is cancelled. It is the
// process analogue of flushing on page unload. The returned function removes
// the handler and is safe to call more than once.
func (m *Manager) FlushOnShutdown(ctx context.Context) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(sig)
		select {
		case <-sig:
			m.FlushAll()
		case <-ctx.Done():
			m.FlushAll()
		case <-done:
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
