// Package monitor pushes registry changes and stream statistics to browser
// clients over websocket.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hongjun500/neurostream/internal/registry"
	"github.com/hongjun500/neurostream/pkg/logger"
)

const (
	pingPeriod = 30 * time.Second
	readWait   = 60 * time.Second
	writeWait  = 5 * time.Second
)

// Event is one JSON text frame sent to every watcher.
type Event struct {
	Kind string `json:"kind"`
	Ts   int64  `json:"ts"`
	Data any    `json:"data,omitempty"`
}

type watcher struct {
	id   string
	out  chan []byte
	once sync.Once
	done chan struct{}
}

func (w *watcher) stop() { w.once.Do(func() { close(w.done) }) }

// Hub fans events out to websocket watchers. A slow watcher loses events
// rather than stalling the publisher.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int

	mu       sync.RWMutex
	watchers map[string]*watcher
	dropped  uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:   buffer,
		watchers: make(map[string]*watcher),
	}
}

// Len returns the number of connected watchers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// Dropped returns how many frames were discarded for full watchers.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Publish encodes the event once and queues it for every watcher.
func (h *Hub) Publish(kind string, data any) {
	b, err := json.Marshal(Event{Kind: kind, Ts: time.Now().UnixMilli(), Data: data})
	if err != nil {
		logger.L().Sugar().Warnw("monitor_encode_failed", "kind", kind, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		select {
		case w.out <- b:
		default:
			h.dropped++
		}
	}
}

// WatchRegistry forwards every registry change as a "client" event.
func (h *Hub) WatchRegistry(reg *registry.Registry) (cancel func()) {
	return reg.Subscribe(func(c registry.Change) {
		h.Publish("client", c)
	})
}

// Sample publishes fn() under kind every interval until ctx is done.
// Nothing is encoded while no watcher is connected.
func (h *Hub) Sample(ctx context.Context, kind string, every time.Duration, fn func() any) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.Len() > 0 {
				h.Publish(kind, fn())
			}
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Sugar().Warnw("monitor_upgrade_failed", "err", err)
		return
	}
	wt := &watcher{id: uuid.NewString(), out: make(chan []byte, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	h.watchers[wt.id] = wt
	h.mu.Unlock()
	logger.L().Sugar().Debugw("monitor_watcher_open", "id", wt.id, "remote", conn.RemoteAddr().String())

	defer func() {
		h.mu.Lock()
		delete(h.watchers, wt.id)
		h.mu.Unlock()
		wt.stop()
		_ = conn.Close()
		logger.L().Sugar().Debugw("monitor_watcher_closed", "id", wt.id)
	}()

	go h.writeLoop(conn, wt)

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	// Watchers only listen; reads detect close and keep pongs flowing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, wt *watcher) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-wt.done:
			return
		case b := <-wt.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.L().Sugar().Warnw("monitor_write_failed", "id", wt.id, "err", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
