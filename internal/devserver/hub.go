package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/iudanet/hearthsync/pkg/api"
)

// hub fans committed changes out to connected realtime clients, each
// filtered by the entity types it asked for. Slow clients are written
// with a bounded timeout so one stalled connection cannot block the
// push path.
type hub struct {
	clients map[*hubClient]bool
	logger  *slog.Logger
	mu      sync.RWMutex
}

type hubClient struct {
	conn  *websocket.Conn
	types map[string]bool
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*hubClient]bool),
		logger:  logger,
	}
}

func (h *hub) add(conn *websocket.Conn, entityTypes []string) *hubClient {
	c := &hubClient{conn: conn, types: make(map[string]bool, len(entityTypes))}
	for _, t := range entityTypes {
		if t != "" {
			c.types[t] = true
		}
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast sends the change to every client subscribed to its type.
func (h *hub) broadcast(ctx context.Context, msg api.ChangeMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal change message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if len(c.types) == 0 || c.types[msg.EntityType] {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("dropping unresponsive realtime client", "error", err)
			h.remove(c)
			_ = c.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, c)
	}
}
