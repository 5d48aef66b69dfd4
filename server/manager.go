package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftserver/snapshot"
)

// ErrSlowClients reports that some clients missed a snapshot because their
// send queue was full.
var ErrSlowClients = errors.New("server: slow clients skipped snapshot")

// Hub tracks live connections and fans snapshots out to them.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*ClientConn
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log.Named("hub"), clients: make(map[uuid.UUID]*ClientConn)}
}

// Add attaches a connection to a player id, closing any previous one.
func (h *Hub) Add(id uuid.UUID, c *ClientConn) {
	h.mu.Lock()
	old := h.clients[id]
	h.clients[id] = c
	h.mu.Unlock()
	if old != nil && old != c {
		old.Close()
	}
}

// Len reports the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes s once and queues it on every connection without
// blocking.
func (h *Hub) Broadcast(s *snapshot.Snapshot) error {
	b, err := snapshot.Encode(s)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	skipped := 0
	for _, c := range h.clients {
		if !c.EnqueueBinary(b) {
			skipped++
		}
	}
	if skipped > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSlowClients, skipped, len(h.clients))
	}
	return nil
}

// Evict detaches and closes the connection of a purged player.
func (h *Hub) Evict(id uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		h.log.Debug("closing connection", zap.Stringer("player", id))
		c.Close()
	}
}

var _ Broadcaster = (*Hub)(nil)
