package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Write deadline per outgoing frame
	writeWait = 10 * time.Second

	// Pong deadline; the peer is considered gone after this
	pongWait = 60 * time.Second

	// Ping cadence, kept under pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small subscribe/unsubscribe frames
	maxMessageSize = 512
)

// Client is one connected dashboard session. Outgoing frames go through
// the buffered send channel; the hub never writes to the socket directly.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// ReadPump consumes subscribe/unsubscribe frames until the peer goes away,
// then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && c.logger != nil {
				c.logger.Error("websocket read error", slog.Any("error", err))
			}
			return
		}
		c.handleMessage(frame)
	}
}

// WritePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				// Hub shut this client down
				c.writeFrame(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeFrame(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeFrame(messageType int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// handleMessage routes one inbound frame to the hub.
func (c *Client) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if msg.RequestID == "" {
			c.sendError("request_id is required")
			return
		}
		if msg.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, msg.RequestID)
		} else {
			c.hub.Unsubscribe(c, msg.RequestID)
		}

	default:
		c.sendError("unknown message type")
	}
}

// sendError reports a protocol error back to this client only. A full
// buffer drops the frame rather than blocking the reader.
func (c *Client) sendError(errMsg string) {
	data, err := json.Marshal(WSMessage{
		Type:  MessageTypeError,
		Error: errMsg,
	})
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
	}
}
