// Package events implements a Server-Sent Events (SSE) hub for task and
// dependency change notifications.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Event types published by the service layer.
const (
	ListCreated         = "list.created"
	ListDeleted         = "list.deleted"
	TaskCreated         = "task.created"
	TaskUpdated         = "task.updated"
	TaskDeleted         = "task.deleted"
	DependenciesUpdated = "task.dependencies_updated"
)

// Event is a typed real-time event broadcast to connected clients.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// ClientObserver is notified as subscribers come and go.
type ClientObserver interface {
	ClientConnected()
	ClientDisconnected()
}

// client represents a single SSE connection.
type client struct {
	ch chan []byte
}

// Hub manages SSE client connections and broadcasts events.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	logger    *slog.Logger
	observer  ClientObserver
	keepAlive time.Duration
}

// NewHub creates a Hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		logger:    logger,
		keepAlive: 30 * time.Second,
	}
}

// SetObserver attaches a subscriber count observer. Call before serving.
func (h *Hub) SetObserver(o ClientObserver) {
	h.observer = o
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts an event of the given type.
func (h *Hub) Publish(eventType string, payload any) {
	h.Broadcast(Event{Type: eventType, Payload: payload, Time: time.Now().UTC()})
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("hub broadcast marshal", slog.Any("err", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- data:
		default:
			// Drop event if client is slow
		}
	}
}

// ServeSSE handles an SSE connection request.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	c := &client{ch: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ClientConnected()
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.ch)
		if h.observer != nil {
			h.observer.ClientDisconnected()
		}
	}()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n") //nolint:errcheck
			flusher.Flush()
		case data, ok := <-c.ch:
			if !ok {
				return
			}
			// Each SSE "data:" line must not contain newlines
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}
