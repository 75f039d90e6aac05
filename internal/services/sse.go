package services

import (
	"sync"
)

// ViewEventType is a UI instruction for a conversation view.
type ViewEventType string

const (
	ViewEventRefresh      ViewEventType = "refresh"
	ViewEventHideKeyboard ViewEventType = "hide_keyboard"
)

// ViewEvent is pushed to the clients rendering a conversation view
type ViewEvent struct {
	SessionID      string        `json:"session_id"`
	Type           ViewEventType `json:"type"`
	ScrollToBottom bool          `json:"scroll_to_bottom,omitempty"`
}

// ViewEventHub fans view events out to the SSE clients of each session
type ViewEventHub struct {
	sessions map[string]map[string]chan ViewEvent
	mu       sync.RWMutex
}

func NewViewEventHub() *ViewEventHub {
	return &ViewEventHub{
		sessions: make(map[string]map[string]chan ViewEvent),
	}
}

// Subscribe registers a client of a session and returns its event channel
func (h *ViewEventHub) Subscribe(sessionID, clientID string) <-chan ViewEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[sessionID]
	if !ok {
		clients = make(map[string]chan ViewEvent)
		h.sessions[sessionID] = clients
	}
	ch := make(chan ViewEvent, 32)
	clients[clientID] = ch
	return ch
}

// Unsubscribe removes a client; unknown clients are ignored
func (h *ViewEventHub) Unsubscribe(sessionID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if ch, ok := clients[clientID]; ok {
		close(ch)
		delete(clients, clientID)
	}
	if len(clients) == 0 {
		delete(h.sessions, sessionID)
	}
}

// CloseSession disconnects every client of a session
func (h *ViewEventHub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.sessions[sessionID] {
		close(ch)
	}
	delete(h.sessions, sessionID)
}

// Publish sends an event to the clients of event.SessionID
func (h *ViewEventHub) Publish(event ViewEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.sessions[event.SessionID] {
		// Non-blocking send - a slow client misses the event and catches up on the next refresh
		select {
		case ch <- event:
		default:
		}
	}
}

// ClientCount returns the number of connected clients across all sessions
func (h *ViewEventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}
