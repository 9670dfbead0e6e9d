package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

// ClientConfig tunes the per-connection pumps.
type ClientConfig struct {
	PingInterval   time.Duration
	MaxMissedPings int
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultClientConfig returns the settings used when none are configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:   30 * time.Second,
		MaxMissedPings: 2,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// idleTimeout is how long a connection may stay silent before it is dropped.
func (c ClientConfig) idleTimeout() time.Duration {
	return c.PingInterval * time.Duration(c.MaxMissedPings)
}

// Client owns one websocket: a read pump that feeds actions to a handler in arrival order and
// a write pump that drains the outbound queue.
type Client struct {
	conn *websocket.Conn
	cfg  ClientConfig

	send      chan models.Event
	done      chan struct{}
	closeOnce sync.Once

	closed     atomic.Bool
	lastActive atomic.Time
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, cfg ClientConfig) *Client {
	c := &Client{
		conn: conn,
		cfg:  cfg,
		send: make(chan models.Event, cfg.SendBuffer),
		done: make(chan struct{}),
	}
	c.lastActive.Store(time.Now())
	return c
}

// Send queues ev without blocking.
func (c *Client) Send(ev models.Event) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: connection closed", chaterr.ErrTransportFailure)
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection closed", chaterr.ErrTransportFailure)
	case c.send <- ev:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", chaterr.ErrTransportFailure)
	}
}

// Close stops the write pump, which closes the socket. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// LastActive is the time of the last inbound frame or pong.
func (c *Client) LastActive() time.Time {
	return c.lastActive.Load()
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now())
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.idleTimeout()))
}

// WritePump runs until Close or a write error.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("ws encode failed type=%s err=%v", ev.Type, err)
				continue
			}
			if !c.write(websocket.TextMessage, payload) {
				c.Close()
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

func (c *Client) write(msgType int, payload []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.conn.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Printf("ws write failed err=%v", err)
		}
		return false
	}
	return true
}

// ReadPump decodes inbound frames and hands each action to handle on this goroutine, so a
// connection's actions are processed in the order they arrived. It returns the read error
// that ended the connection.
func (c *Client) ReadPump(handle func(models.Action)) error {
	defer c.Close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.idleTimeout()))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		c.touch()

		var action models.Action
		if err := json.Unmarshal(raw, &action); err != nil || action.Type == "" {
			_ = c.Send(models.Event{Type: models.EventError, Data: models.ErrorPayload{
				Kind:   string(chaterr.KindInvalidAction),
				Reason: "malformed frame",
			}})
			continue
		}
		handle(action)
	}
}
