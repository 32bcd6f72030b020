package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local network dashboard
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub broadcasts every event to the connected WebSocket clients.
// Notify never blocks: a client that cannot keep up is disconnected.
type Hub struct {
	log logrus.FieldLogger

	wsClientsMutex sync.RWMutex
	wsClients      map[*wsClient]bool
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		log:       logger.WithField("component", "ws_hub"),
		wsClients: make(map[*wsClient]bool),
	}
}

func (h *Hub) Notify(e events.Event) {
	msg := e.ToJsonBytes()

	h.wsClientsMutex.RLock()
	var slow []*wsClient
	for client := range h.wsClients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.wsClientsMutex.RUnlock()

	for _, client := range slow {
		h.log.Warn("WebSocket client too slow, disconnecting")
		h.remove(client)
	}
}

func (h *Hub) Clients() int {
	h.wsClientsMutex.RLock()
	defer h.wsClientsMutex.RUnlock()
	return len(h.wsClients)
}

// serve upgrades the request and blocks until the client goes away.
// greeting, if not nil, is sent before any broadcast.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, greeting []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if greeting != nil {
		client.send <- greeting
	}
	h.add(client)
	go h.writePump(client)

	// Keep connection alive, clients never send anything useful
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	defer client.conn.Close()
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(client)
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) add(client *wsClient) {
	h.wsClientsMutex.Lock()
	h.wsClients[client] = true
	h.wsClientsMutex.Unlock()
}

func (h *Hub) remove(client *wsClient) {
	h.wsClientsMutex.Lock()
	delete(h.wsClients, client)
	h.wsClientsMutex.Unlock()
	client.close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.wsClientsMutex.Lock()
	clients := h.wsClients
	h.wsClients = make(map[*wsClient]bool)
	h.wsClientsMutex.Unlock()

	for client := range clients {
		client.close()
	}
}
