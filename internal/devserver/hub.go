package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/indichess/indichess/internal/push"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dev server only; every origin is fine.
		return true
	},
}

// Hub maintains active websocket connections and their topic subscriptions.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]bool

	// onPublish handles client-published frames (channel move submissions).
	onPublish func(userID, destination string, body json.RawMessage)
}

type hubClient struct {
	conn   *websocket.Conn
	userID string
	send   chan push.Frame

	mu     sync.Mutex
	topics map[string]bool
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]bool),
	}
}

// Broadcast sends a message frame to every client subscribed to topic.
func (h *Hub) Broadcast(topic string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("Broadcast encode failed")
		return
	}
	frame := push.Frame{Type: push.FrameMessage, Topic: topic, Body: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.subscribed(topic) {
			continue
		}
		select {
		case client.send <- frame:
		default:
			h.logger.Warn().Str("topic", topic).Msg("Dropping frame, client send buffer full")
		}
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &hubClient{
		conn:   conn,
		userID: r.Header.Get("X-USER-ID"),
		send:   make(chan push.Frame, 32),
		topics: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info().Str("user_id", client.userID).Msg("Channel client connected")

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *Hub) readLoop(client *hubClient) {
	defer h.drop(client)

	for {
		var frame push.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case push.FrameSubscribe:
			client.setTopic(frame.Topic, true)
		case push.FrameUnsubscribe:
			client.setTopic(frame.Topic, false)
		case push.FramePublish:
			if h.onPublish != nil {
				h.onPublish(client.userID, frame.Topic, frame.Body)
			}
		}
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	for frame := range client.send {
		if err := client.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.drop(client)
	}
}

func (c *hubClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *hubClient) setTopic(topic string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
}
