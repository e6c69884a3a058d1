package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/tabletrack/tracker/pkg/streaming"
)

const (
	sendChSize = 4096
	writeWait  = 10 * time.Second
)

// ErrChannelDown means a send was attempted with no live connection.
var ErrChannelDown = errors.New("remote: channel not connected")

// Channel is the live WebSocket push path with a single write goroutine.
// It does not reconnect on its own: a failed connection tears itself down
// and the owner decides when to dial again, so reconnect pacing lives in
// one place.
type Channel struct {
	mu        sync.Mutex
	conn      *ws.Conn
	connected bool
	closed    bool
	gen       int // bumped per connection so stale loops exit quietly

	sendCh chan []byte
	done   chan struct{}

	wsURL  string
	apiKey string
	logger *slog.Logger
}

// NewChannel creates a channel for the given WebSocket endpoint.
func NewChannel(wsURL, apiKey string, logger *slog.Logger) *Channel {
	return &Channel{
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		wsURL:  wsURL,
		apiKey: apiKey,
		logger: logger,
	}
}

// Connect dials the server and sends the handshake before anything else.
// It is safe to call again after a connection drops.
func (c *Channel) Connect(hs streaming.Handshake) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("remote: channel closed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	u, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	hs.Type = streaming.TypeHandshake
	hs.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(hs)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to encode handshake: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake write failed: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("remote: channel closed")
	}
	c.conn = conn
	c.connected = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.writeLoop(conn, gen)
	go c.readLoop(conn, gen)

	c.logger.Info("Sync channel connected", "url", c.wsURL, "scene", hs.SceneID)
	return nil
}

// Connected reports whether a live connection is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send queues one token update for the write loop. Fails fast when the
// channel is down so the caller can take the REST fallback. A full queue
// drops the update; positions are superseded every frame anyway.
func (c *Channel) Send(update streaming.TokenUpdate) error {
	if !c.Connected() {
		return ErrChannelDown
	}
	update.Type = streaming.TypeTokenUpdate
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode token update: %w", err)
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		c.logger.Warn("Sync channel send queue full, dropping update", "markerId", update.MarkerID)
		return nil
	}
}

func (c *Channel) writeLoop(conn *ws.Conn, gen int) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("Sync channel write deadline error", "error", err)
				c.teardown(gen)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("Sync channel write error", "error", err)
				c.teardown(gen)
				return
			}
		}
	}
}

// readLoop drains server messages. Acks are informational; anything else
// is logged and dropped.
func (c *Channel) readLoop(conn *ws.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("Sync channel read error", "error", err)
			c.teardown(gen)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Unexpected sync channel message", "raw", string(message))
			continue
		}
		c.logger.Debug("Sync channel ack", "for", ack.For)
	}
}

// teardown drops the current connection if it is still the one the failing
// loop was serving.
func (c *Channel) teardown(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || !c.connected {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.logger.Info("Sync channel disconnected")
}

// Close sends a close frame and shuts the channel down for good.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
