package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sitewatch/internal/pipeline"
)

const sendBuffer = 16

// client is one websocket subscriber. Only its write pump writes to conn.
type client struct {
	camera int
	conn   *websocket.Conn
	send   chan []byte
}

// DetectionHub manages WebSocket connections for real-time detection streaming
type DetectionHub struct {
	// clients maps camera index -> set of clients
	clients map[int]map[*client]struct{}
	mu      sync.RWMutex
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub() *DetectionHub {
	return &DetectionHub{
		clients: make(map[int]map[*client]struct{}),
	}
}

func (h *DetectionHub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.camera] == nil {
		h.clients[c.camera] = make(map[*client]struct{})
	}
	h.clients[c.camera][c] = struct{}{}
	log.Debug().Int("camera", c.camera).Int("clients", len(h.clients[c.camera])).Msg("ws client registered")
}

// unregister removes c and closes its send channel. Safe to call twice.
func (h *DetectionHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.camera]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.camera)
	}
	log.Debug().Int("camera", c.camera).Msg("ws client unregistered")
}

// HasClients returns true if there are any clients connected for a camera
func (h *DetectionHub) HasClients(camera int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[camera]) > 0
}

// ClientCount returns the total number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// OnDetectionEvent implements pipeline.EventHandler.
func (h *DetectionHub) OnDetectionEvent(event *pipeline.DetectionEvent) {
	if !h.HasClients(event.Camera) {
		return
	}

	data, err := json.Marshal(NewDetectionMessage(event))
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal detection message")
		return
	}
	h.BroadcastToCamera(event.Camera, data)
}

// BroadcastToCamera queues message for every client of a camera. Clients
// whose buffer is full miss the message.
func (h *DetectionHub) BroadcastToCamera(camera int, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[camera] {
		select {
		case c.send <- message:
		default:
			log.Warn().Int("camera", camera).Msg("ws client too slow, message dropped")
		}
	}
}
