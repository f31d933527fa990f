package docstore

import (
	"context"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// watchDialer is gorilla's default dialer; a variable so tests can swap it.
var watchDialer = websocket.DefaultDialer

// Watch opens a long-lived snapshot stream for (userID, collectionKey). Every
// frame the server pushes is delivered to onEvent. Connection loss is retried
// with exponential backoff until the returned cancel function is called;
// onError (optional) observes each failure.
//
// onEvent runs on the read-loop goroutine; keep it non-blocking.
func (c *Client) Watch(ctx context.Context, userID, collectionKey string, onEvent func(WatchEvent), onError func(error)) func() {
	wctx, cancel := context.WithCancel(ctx)
	url := wsURL(c.documentURL(userID, collectionKey)) + "/watch"

	var mu sync.Mutex
	var active *websocket.Conn

	setConn := func(conn *websocket.Conn) {
		mu.Lock()
		active = conn
		mu.Unlock()
	}

	go func() {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = time.Second
		exp.MaxInterval = 30 * time.Second
		exp.MaxElapsedTime = 0 // retry forever; the stream outlives outages

		for {
			if wctx.Err() != nil {
				return
			}
			conn, resp, err := watchDialer.DialContext(wctx, url, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				if wctx.Err() != nil {
					return
				}
				reportWatchError(onError, err)
				wait := exp.NextBackOff()
				log.Debug().Str("key", collectionKey).Dur("retry_in", wait).Err(err).Msg("docstore: watch dial failed")
				select {
				case <-wctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			exp.Reset()
			setConn(conn)

			readErr := readWatchFrames(conn, onEvent)
			setConn(nil)
			_ = conn.Close()
			if wctx.Err() != nil {
				return
			}
			reportWatchError(onError, readErr)
		}
	}()

	return func() {
		cancel()
		// Closing the live connection unblocks a pending read.
		mu.Lock()
		if active != nil {
			_ = active.Close()
		}
		mu.Unlock()
	}
}

func readWatchFrames(conn *websocket.Conn, onEvent func(WatchEvent)) error {
	for {
		var ev WatchEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		onEvent(ev)
	}
}

func reportWatchError(onError func(error), err error) {
	if err == nil {
		return
	}
	if onError != nil {
		onError(err)
		return
	}
	log.Warn().Err(err).Msg("docstore: watch stream error")
}

func wsURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}
