package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamBufferSize   = 64
)

// StreamMessage is one frame pushed to stream clients
type StreamMessage struct {
	Event string      `json:"event"`
	Data  model.Event `json:"data"`
}

// StreamHub pushes recorded check events to connected websocket clients.
// A client that cannot keep up is disconnected.
type StreamHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewStreamHub creates an empty hub
func NewStreamHub() *StreamHub {
	return &StreamHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts event to every client without blocking
func (h *StreamHub) Publish(event model.Event) {
	frame, err := json.Marshal(StreamMessage{Event: event.EventName(), Data: event})
	if err != nil {
		slog.Error("Failed to encode stream event", "event", event.EventName(), "error", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			slog.Warn("Dropping slow stream client")
			delete(h.clients, ch)
			close(ch)
		}
	}
}

// Clients returns the number of connected clients
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP handles GET /api/v1/stream
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade to websocket", "error", err.Error())
		return
	}
	defer conn.Close()

	ch := make(chan []byte, streamBufferSize)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	defer h.remove(ch)

	slog.Debug("Stream client connected", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-done:
			slog.Debug("Stream client disconnected", "remote_addr", r.RemoteAddr)
			return
		}
	}
}

func (h *StreamHub) remove(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}
