// Package hearthclient provides a realtime client with automatic reconnection.
// It maintains a WebSocket session against the realtime gateway, dispatches
// inbound events to registered listeners, and reconnects with exponential
// backoff when the session drops.
package hearthclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State describes the client's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Send while the session is down. Frames are
// never queued; callers decide what to do with undeliverable sends.
var ErrNotConnected = errors.New("not connected")

// Conn is the transport session surface the client needs. A gorilla
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Listener receives one inbound event's payload.
type Listener func(data json.RawMessage)

// Config configures a Client.
type Config struct {
	// URL is the realtime gateway endpoint, e.g. wss://host/stage.
	URL string

	// Token is the bearer credential presented on the handshake.
	Token string

	// BaseDelay is the first reconnect delay; each subsequent attempt
	// doubles it (default 500ms).
	BaseDelay time.Duration

	// MaxAttempts caps consecutive failed reconnect attempts before the
	// client gives up and settles in Disconnected (default 8).
	MaxAttempts int

	// Dial overrides transport dialing, for tests. When nil the gorilla
	// dialer is used.
	Dial func(ctx context.Context, url string, header http.Header) (Conn, error)

	Logger zerolog.Logger
}

// Client is a reconnecting realtime session. Listener registrations are
// client-side state and survive reconnects; server-side state such as chat
// subscriptions does not, so callers re-establish it in OnReconnect.
type Client struct {
	config Config
	id     string

	// OnReconnect runs after every successful connection, including the
	// first. Use it to replay server-side session state.
	OnReconnect func(ctx context.Context)

	mu        sync.RWMutex
	state     State
	conn      Conn
	listeners map[string][]Listener

	done chan struct{}
}

// New builds a Client from config, applying defaults.
func New(config Config) *Client {
	if config.BaseDelay == 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 8
	}
	if config.Dial == nil {
		config.Dial = gorillaDial
	}
	return &Client{
		config:    config,
		id:        uuid.New().String(),
		listeners: map[string][]Listener{},
		done:      make(chan struct{}),
	}
}

func gorillaDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	return conn, err
}

// Backoff returns the delay before reconnect attempt n (1-based): the base
// delay doubled for each prior failure.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// On registers a listener for an event type. Multiple listeners per type are
// allowed; all are invoked in registration order.
func (c *Client) On(eventType string, fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[eventType] = append(c.listeners[eventType], fn)
}

// Connect establishes the session and starts the read loop. It returns once
// the first connection attempt resolves; subsequent drops reconnect in the
// background.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

// Close tears the session down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	c.state = Disconnected
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Send writes one frame to the gateway. While the session is down the frame
// is dropped and ErrNotConnected returned.
func (c *Client) Send(frameType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %v payload: %w", frameType, err)
	}
	frame, err := json.Marshal(struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}{Type: frameType, Data: data})
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != Connected || c.conn == nil {
		c.config.Logger.Warn().Str("type", frameType).Msg("dropping frame, not connected")
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) dial(ctx context.Context) error {
	c.setState(Connecting)

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	conn, err := c.config.Dial(ctx, c.config.URL, header)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("dialling %v: %w", c.config.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.config.Logger.Info().Str("client_id", c.id).Msg("connected")

	if c.OnReconnect != nil {
		c.OnReconnect(ctx)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.config.Logger.Warn().Err(err).Msg("session dropped")
			c.setState(Disconnected)

			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		c.dispatch(data)
	}
}

// reconnect retries the handshake with exponential backoff. It reports
// whether a session was re-established.
func (c *Client) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		delay := Backoff(c.config.BaseDelay, attempt)
		c.config.Logger.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("reconnecting")

		select {
		case <-ctx.Done():
			return false
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err != nil {
			c.config.Logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		return true
	}

	c.config.Logger.Error().Int("attempts", c.config.MaxAttempts).Msg("giving up on reconnect")
	return false
}

func (c *Client) dispatch(data []byte) {
	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		c.config.Logger.Warn().Err(err).Msg("dropping unparseable event")
		return
	}

	c.mu.RLock()
	listeners := c.listeners[event.Type]
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(event.Data)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
