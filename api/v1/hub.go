package v1

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tinoosan/mediamgr/internal/downloader"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Hub fans downloader events out to websocket subscribers. It implements
// downloader.Reporter; a subscriber that falls behind loses events rather
// than slowing the manager.
type Hub struct {
	l *slog.Logger

	mu     sync.Mutex
	subs   map[chan downloader.Event]struct{}
	closed bool
	done   chan struct{}
}

func NewHub(l *slog.Logger) *Hub {
	if l == nil {
		l = slog.Default()
	}
	return &Hub{
		l:    l.With("component", "events"),
		subs: make(map[chan downloader.Event]struct{}),
		done: make(chan struct{}),
	}
}

// Report implements downloader.Reporter.
func (h *Hub) Report(e downloader.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (chan downloader.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan downloader.Event, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan downloader.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, ch)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

// ServeHTTP upgrades the request and streams events as JSON messages until
// the client goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	// clients only listen; CloseRead handles their control frames
	ctx := c.CloseRead(r.Context())
	h.l.Info("subscriber connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			c.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case e := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, e)
			cancel()
			if err != nil {
				h.l.Info("subscriber dropped", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
