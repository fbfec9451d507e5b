package sse

import (
	"sync"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/notification"
)

// Hub fans engine events out to connected SSE clients. It implements
// notification.Dispatcher: Dispatch never blocks, and a client whose
// buffer is full simply misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.SSEClient
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*notification.SSEClient),
	}
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatch delivers the event to every connected client the event
// targets. Events with no targets go to everyone.
func (h *Hub) Dispatch(event *notification.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID == nil || targeted(event, *c.UserID) {
			trySend(c, event)
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func targeted(event *notification.Event, userID uuid.UUID) bool {
	if len(event.Targets) == 0 {
		return true
	}
	for _, t := range event.Targets {
		if t == userID {
			return true
		}
	}
	return false
}

func trySend(c *notification.SSEClient, event *notification.Event) bool {
	select {
	case c.MessageChan <- event:
		return true
	default:
		return false
	}
}
