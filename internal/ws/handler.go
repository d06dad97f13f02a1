package ws

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades requests to detection feeds
type Handler struct {
	hub     *DetectionHub
	cameras int
}

// NewHandler creates a handler serving cameras [0, cameras).
func NewHandler(hub *DetectionHub, cameras int) *Handler {
	return &Handler{hub: hub, cameras: cameras}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws/detections/{index}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	camera, err := strconv.Atoi(path.Base(r.URL.Path))
	if err != nil || camera < 0 || camera >= h.cameras {
		http.Error(w, "unknown camera", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	log.Info().Int("camera", camera).Str("remote", r.RemoteAddr).Msg("ws connection opened")

	c := &client{camera: camera, conn: conn, send: make(chan []byte, sendBuffer)}
	h.hub.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump detects disconnection and keeps the read deadline fresh.
func (h *Handler) readPump(c *client) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Int("camera", c.camera).Msg("ws read error")
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.hub.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.unregister(c)
				return
			}
		}
	}
}
