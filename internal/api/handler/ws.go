package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/service"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeTimeout   = 10 * time.Second
	clientBuffer   = 64
	broadcastQueue = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type stateEvent struct {
	vehicleID string
	data      []byte
}

type stateMessage struct {
	Type string             `json:"type"`
	Data model.VehicleState `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	// vehicleID narrows the feed to one vehicle; empty means all.
	vehicleID string
}

// Hub fans accepted vehicle states out to websocket clients. It is a
// service.StatePublisher; Run must be running for clients to connect.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan stateEvent
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan stateEvent, broadcastQueue),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client connected", zap.Int("clients", n))
		case c := <-h.unregister:
			h.remove(c)
		case ev := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*wsClient, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				if c.vehicleID != "" && c.vehicleID != ev.vehicleID {
					continue
				}
				select {
				case c.send <- ev.data:
				default:
					// Slow consumer.
					h.remove(c)
				}
			}
		}
	}
}

// PublishState queues state for broadcast. It never blocks ingestion; updates
// are dropped when the queue is full.
func (h *Hub) PublishState(_ context.Context, state model.VehicleState) error {
	data, err := json.Marshal(stateMessage{Type: "state", Data: state})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- stateEvent{vehicleID: state.VehicleID, data: data}:
	default:
		h.log.Debug("websocket broadcast queue full, dropping update", zap.String("vehicle_id", state.VehicleID))
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, vehicleID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer), vehicleID: vehicleID}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// readPump only keeps the connection alive; clients do not send commands.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler authorizes feed subscriptions before handing them to the hub.
type WSHandler struct {
	hub      *Hub
	registry service.Registry
	log      *zap.Logger
}

func NewWSHandler(hub *Hub, registry service.Registry, log *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, registry: registry, log: log}
}

// Fleet streams state updates. Admins may watch the whole fleet; other callers
// must pick one of their vehicles with vehicle_id.
func (h *WSHandler) Fleet(w http.ResponseWriter, r *http.Request) {
	claims, err := util.GetUserClaims(r)
	if err != nil {
		util.WriteMessage(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
		return
	}

	vehicleID := r.URL.Query().Get("vehicle_id")
	if vehicleID == "" && !claims.IsAdmin() {
		util.WriteMessage(w, http.StatusForbidden, "forbidden", "vehicle_id is required")
		return
	}
	if vehicleID != "" {
		vehicle, err := h.registry.Get(r.Context(), vehicleID)
		if err != nil {
			util.WriteError(w, h.log, err)
			return
		}
		if !claims.CanAccessOwner(vehicle.OwnerID) {
			util.WriteMessage(w, http.StatusForbidden, "forbidden", "Unauthorized access to vehicle")
			return
		}
	}
	h.hub.serve(w, r, vehicleID)
}
