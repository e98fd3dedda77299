// Package push is the client side of the gateway's publish/subscribe
// websocket channel. The client subscribes to per-game topics and receives
// JSON-framed broadcasts; it can also publish move requests to a per-game
// destination as the alternate move transport.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/indichess/indichess/internal/game"
)

const (
	// Reconnection parameters
	initialReconnectDelay  = 1 * time.Second
	maxReconnectDelay      = 5 * time.Minute
	reconnectBackoffFactor = 2

	// WebSocket parameters
	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	subscriptionBuffer = 16
)

// FrameType discriminates channel frames.
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePublish     FrameType = "publish"
	FrameMessage     FrameType = "message"
)

// Frame is the wire envelope for every channel message.
type Frame struct {
	Type  FrameType       `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Message is a broadcast delivered to a subscriber.
type Message struct {
	Topic string
	Body  json.RawMessage
}

// GameTopic is the broadcast topic for one game.
func GameTopic(gameID int64) string {
	return fmt.Sprintf("game/%d", gameID)
}

// MoveDestination is the publish destination for channel-submitted moves.
func MoveDestination(gameID int64) string {
	return fmt.Sprintf("game/%d/move", gameID)
}

// Client maintains one websocket connection to the gateway, reconnecting
// with exponential backoff and resubscribing its topics after each
// reconnect.
type Client struct {
	url            string
	viewer         game.PlayerID
	conn           *websocket.Conn
	logger         zerolog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	mu        sync.RWMutex
	connected bool
	subs      map[string]chan Message
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer swaps the websocket dialer, mainly for tests.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

// WithInitialReconnectDelay sets the initial reconnect delay.
func WithInitialReconnectDelay(delay time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = delay }
}

// NewClient builds a channel client for the websocket endpoint at url.
// Viewer identity is sent as a connection-time header.
func NewClient(url string, viewer game.PlayerID, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		url:            url,
		viewer:         viewer,
		logger:         zerolog.Nop(),
		ctx:            ctx,
		cancel:         cancel,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: initialReconnectDelay,
		subs:           make(map[string]chan Message),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Start begins connecting and listening in the background.
func (c *Client) Start() error {
	go c.run()
	return nil
}

// Stop tears the connection down. Subscriber channels are closed so readers
// observe the shutdown; Stop is safe to call more than once.
func (c *Client) Stop() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	for topic, ch := range c.subs {
		close(ch)
		delete(c.subs, topic)
	}
	return err
}

// IsConnected reports whether the channel is currently up. A session stays
// usable on the poll alone when this is false.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Subscribe registers interest in a topic and returns the delivery channel.
// The subscription survives reconnects.
func (c *Client) Subscribe(topic string) <-chan Message {
	c.mu.Lock()
	ch, ok := c.subs[topic]
	if !ok {
		ch = make(chan Message, subscriptionBuffer)
		c.subs[topic] = ch
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.writeFrame(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("Subscribe frame failed")
		}
	}
	return ch
}

// Unsubscribe drops a topic and closes its delivery channel.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	ch, ok := c.subs[topic]
	if ok {
		delete(c.subs, topic)
	}
	conn := c.conn
	c.mu.Unlock()

	if !ok {
		return
	}
	close(ch)
	if conn != nil {
		if err := c.writeFrame(Frame{Type: FrameUnsubscribe, Topic: topic}); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("Unsubscribe frame failed")
		}
	}
}

// Publish sends a payload to a destination. It fails immediately when the
// channel is down; callers fall back to REST.
func (c *Client) Publish(destination string, v any) error {
	if !c.IsConnected() {
		return fmt.Errorf("channel not connected")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode publish body: %w", err)
	}
	return c.writeFrame(Frame{Type: FramePublish, Topic: destination, Body: body})
}

func (c *Client) writeFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("channel not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *Client) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			conn, err := c.connect()
			if err != nil {
				c.logger.Error().Err(err).Msg("Failed to connect to push channel")
				c.handleReconnect()
				continue
			}

			if err := c.listen(conn); err != nil {
				c.logger.Error().Err(err).Msg("Error listening to push channel")
			}
			if c.ctx.Err() != nil {
				return
			}
			c.handleReconnect()
		}
	}
}

func (c *Client) connect() (*websocket.Conn, error) {
	c.logger.Info().Str("url", c.url).Msg("Connecting to push channel")

	headers := http.Header{}
	headers.Set("X-USER-ID", string(c.viewer))

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.reconnectDelay = initialReconnectDelay
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
		return nil
	})

	// Replay subscriptions so a reconnect picks up where it left off.
	for _, topic := range topics {
		if err := c.writeFrame(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
			return nil, fmt.Errorf("resubscribe %s: %w", topic, err)
		}
	}

	c.logger.Info().Int("topics", len(topics)).Msg("Connected to push channel")
	return conn, nil
}

func (c *Client) listen(conn *websocket.Conn) error {
	go c.pingLoop()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					return fmt.Errorf("websocket read error: %w", err)
				}
				return err
			}

			if err := c.dispatch(data); err != nil {
				c.logger.Error().Err(err).Msg("Error processing channel frame")
			}
		}
	}
}

func (c *Client) dispatch(data []byte) error {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if frame.Type != FrameMessage {
		return nil
	}

	c.mu.RLock()
	ch, ok := c.subs[frame.Topic]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	select {
	case ch <- Message{Topic: frame.Topic, Body: frame.Body}:
	default:
		// Subscriber is behind; the poll path will catch it up.
		c.logger.Warn().Str("topic", frame.Topic).Msg("Dropping push message, subscriber full")
	}
	return nil
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Error().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (c *Client) handleReconnect() {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	delay := c.reconnectDelay

	c.reconnectDelay = time.Duration(float64(c.reconnectDelay) * reconnectBackoffFactor)
	if c.reconnectDelay > maxReconnectDelay {
		c.reconnectDelay = maxReconnectDelay
	}
	c.mu.Unlock()

	c.logger.Info().Str("delay", delay.String()).Msg("Waiting before reconnect")

	select {
	case <-time.After(delay):
	case <-c.ctx.Done():
	}
}
