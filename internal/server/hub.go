package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dungeonarchive/chronicler/internal/observe"
	"github.com/dungeonarchive/chronicler/internal/pipeline"
)

// publishTimeout bounds how long one slow client may block a broadcast
// before it is treated as dead.
const publishTimeout = 5 * time.Second

// greeting is sent to every client on connect so the UI can confirm the
// stream is live before the first real event arrives.
var greeting = pipeline.Event{Heading: "System", Content: "🧭 New adventure begins"}

// Hub fans pipeline events out to the connected /ws clients. Clients whose
// writes fail are evicted; a hub with no clients silently drops events.
type Hub struct {
	logger  *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

var _ pipeline.Publisher = (*Hub)(nil)

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger, metrics *observe.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Publish implements [pipeline.Publisher]. It never blocks the caller for
// longer than publishTimeout per client.
func (h *Hub) Publish(ev pipeline.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("event marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	// Writes run concurrently so one stalled client cannot delay the rest
	// of the broadcast.
	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := c.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.evict(c)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ActiveUIClients.Add(context.Background(), 1)
}

func (h *Hub) evict(c *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if present {
		c.Close(websocket.StatusNormalClosure, "")
		h.metrics.ActiveUIClients.Add(context.Background(), -1)
	}
}

// handleEvents upgrades the connection and parks it in the hub. Incoming
// messages are read and discarded; the UI sends them as keepalives.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("event client upgrade failed", "error", err)
		return
	}
	s.logger.Info("event client connected", "remote", r.RemoteAddr)
	s.hub.add(conn)
	defer func() {
		s.hub.evict(conn)
		s.logger.Info("event client disconnected", "remote", r.RemoteAddr)
	}()

	s.hub.Publish(greeting)

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}
