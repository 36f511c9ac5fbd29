package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RunEvent is pushed to dashboard clients after each completed run.
type RunEvent struct {
	Camera    string `json:"camera"`
	Timestamp string `json:"timestamp"`
	Rejected  bool   `json:"rejected"`
	GifURL    string `json:"gif_url,omitempty"`
	JpegCount int    `json:"jpeg_count"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from other origins on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans out run events to connected websocket viewers. Slow clients are
// dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	events  chan RunEvent
	done    chan struct{}
	logger  *zap.Logger
}

// NewHub creates an idle hub; call Run to start broadcasting.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		events:  make(chan RunEvent, 16),
		done:    make(chan struct{}),
		logger:  zap.L().Named("ws-hub"),
	}
}

// Run delivers queued events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case ev := <-h.events:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					h.logger.Debug("dropping websocket client", zap.Error(err))
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and closes all client connections.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues an event without blocking the caller; if the queue is
// full the event is dropped (viewers refetch from the dashboard API).
func (h *Hub) Broadcast(ev RunEvent) {
	select {
	case h.events <- ev:
	default:
	}
}

// HandleWS upgrades a dashboard connection and registers it.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("dashboard client connected", zap.String("remote", conn.RemoteAddr().String()))

	// Drain (and ignore) client messages so pings and closes are handled.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
