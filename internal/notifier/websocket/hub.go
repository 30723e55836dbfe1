// Package websocket broadcasts notifications to live viewers over WebSocket.
package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"sync"
	"time"

	"aimonitor/internal/logger"
	"aimonitor/internal/notifier"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 16
	writeTimeout   = 5 * time.Second
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON payload sent to viewers.
type Message struct {
	Camera  string `json:"camera"`
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
	Time    string `json:"time"`
}

// Hub keeps the set of connected viewers and fans broadcast messages out to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	camera     string
	logger     *logger.Logger
}

var _ notifier.Notifier = (*Hub)(nil)

// NewHub creates a hub labelling its messages with camera.
func NewHub(camera string, logger *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		camera:     camera,
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then disconnects every viewer.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message to viewer: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Notify encodes img as JPEG and queues the message for every viewer. When the
// queue is full the message is dropped.
func (h *Hub) Notify(ctx context.Context, message string, img image.Image) {
	payload := Message{
		Camera:  h.camera,
		Message: message,
		Time:    time.Now().Format(time.RFC3339),
	}

	if img != nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
			h.logger.Error("Error encoding image for viewers: %v", err)
		} else {
			payload.Image = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Error encoding viewer message: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	case <-ctx.Done():
	default:
		h.logger.Warning("⚠️  Viewer queue full for camera %s - dropping notification", h.camera)
	}
}

// Handler upgrades viewer connections and keeps them registered until they disconnect.
func (h *Hub) Handler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		select {
		case h.register <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
		defer func() {
			select {
			case h.unregister <- conn:
			case <-ctx.Done():
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Warning("Viewer disconnected with error: %v", err)
				}
				return
			}
		}
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
