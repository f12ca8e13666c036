package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
)

// Message is the envelope written to websocket clients.
type Message struct {
	Type string             `json:"type"`
	Data model.StatusChange `json:"data"`
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub broadcasts status changes to websocket clients subscribed per entrant.
type Hub struct {
	mu       sync.RWMutex
	entrants map[string]map[Conn]bool
	logger   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		entrants: make(map[string]map[Conn]bool),
		logger:   log.With().Str("component", "ws_hub").Logger(),
	}
}

// AddConnection subscribes conn to the entrant's changes.
func (h *Hub) AddConnection(entrantID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entrants[entrantID] == nil {
		h.entrants[entrantID] = make(map[Conn]bool)
	}
	h.entrants[entrantID][conn] = true
	h.logger.Debug().Str("entrant_id", entrantID).Int("connections", len(h.entrants[entrantID])).Msg("client connected")
}

// RemoveConnection unsubscribes and closes conn.
func (h *Hub) RemoveConnection(entrantID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.entrants[entrantID]; ok {
		if conns[conn] {
			delete(conns, conn)
			conn.Close()
		}
		if len(conns) == 0 {
			delete(h.entrants, entrantID)
		}
		h.logger.Debug().Str("entrant_id", entrantID).Msg("client disconnected")
	}
}

// Connections returns the number of open connections for the entrant.
func (h *Hub) Connections(entrantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entrants[entrantID])
}

// Notify implements Notifier by writing the change to the entrant's clients.
func (h *Hub) Notify(_ context.Context, c model.StatusChange) {
	data, err := json.Marshal(Message{Type: "status_change", Data: c})
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal status change")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.entrants[c.EntrantID]
	if !ok {
		return
	}
	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn().Err(err).Str("entrant_id", c.EntrantID).Msg("write error, dropping client")
			conn.Close()
			delete(conns, conn)
		}
	}
	if len(conns) == 0 {
		delete(h.entrants, c.EntrantID)
	}
}
