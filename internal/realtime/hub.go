// Package realtime fans conversation events out to websocket subscribers,
// grouped by tenant. Delivery is best-effort: nothing is stored or replayed.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"inbox-hub/internal/metrics"
)

// Frame is what subscribers receive.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Relay forwards frames to hubs on other nodes.
type Relay interface {
	Forward(ctx context.Context, tenantID uuid.UUID, event string, frame []byte) error
}

type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[string]*Connection
	relay  Relay
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Connection),
		logger: logger.With(slog.String("component", "realtime")),
	}
}

func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Join registers conn in its tenant group and starts its write loop.
func (h *Hub) Join(conn *Connection) {
	h.mu.Lock()
	room := h.rooms[conn.TenantID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[conn.TenantID] = room
	}
	room[conn.ID] = conn
	h.mu.Unlock()

	metrics.WSSubscribers.Inc()
	conn.Start()
}

func (h *Hub) Leave(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conn.TenantID]
	if _, ok := room[conn.ID]; !ok {
		return
	}
	delete(room, conn.ID)
	if len(room) == 0 {
		delete(h.rooms, conn.TenantID)
	}
	metrics.WSSubscribers.Dec()
}

// Subscribers returns the number of connections in the tenant group.
func (h *Hub) Subscribers(tenantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

// Publish delivers event to every local subscriber of the tenant and to the relay, if any.
func (h *Hub) Publish(tenantID uuid.UUID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode event", slog.String("event", event), slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		h.logger.Error("encode frame", slog.String("event", event), slog.Any("error", err))
		return
	}

	h.Deliver(tenantID, event, frame)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Forward(context.Background(), tenantID, event, frame); err != nil {
			h.logger.Warn("relay forward failed",
				slog.String("tenant_id", tenantID.String()),
				slog.String("event", event),
				slog.Any("error", err))
		}
	}
}

// Deliver writes an encoded frame to local subscribers only.
func (h *Hub) Deliver(tenantID uuid.UUID, event string, frame []byte) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[tenantID]))
	for _, c := range h.rooms[tenantID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Send(frame); err == nil {
			delivered++
		}
	}
	if delivered > 0 {
		metrics.FanoutDelivered.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	var conns []*Connection
	for _, room := range h.rooms {
		for _, c := range room {
			conns = append(conns, c)
		}
	}
	h.rooms = make(map[uuid.UUID]map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		metrics.WSSubscribers.Dec()
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
