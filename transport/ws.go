package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/message"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 256
)

// WSChannel carries envelopes as websocket text frames. One write pump
// drains the send queue, so frames leave in Send order.
type WSChannel struct {
	name string
	conn *websocket.Conn
	send chan []byte
	recv chan *message.Envelope
	done chan struct{}

	closeOnce sync.Once
}

var _ Channel = (*WSChannel)(nil)

// NewWSChannel wraps an established connection and starts its pumps.
func NewWSChannel(name string, conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		name: name,
		conn: conn,
		send: make(chan []byte, sendQueue),
		recv: make(chan *message.Envelope, sendQueue),
		done: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// DialWS returns a Dialer for the background at endpoint (ws://host:port).
func DialWS(endpoint string) Dialer {
	return func(ctx context.Context, name string) (Channel, error) {
		url := strings.TrimRight(endpoint, "/") + "/port/" + name
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return NewWSChannel(name, conn), nil
	}
}

func (c *WSChannel) Name() string { return c.name }

func (c *WSChannel) Send(ctx context.Context, e *message.Envelope) error {
	data, err := message.Marshal(e)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("envelope too large: %d bytes", len(data))
	}

	select {
	case <-c.done:
		return ErrChannelNotConnected
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrChannelNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSChannel) Messages() <-chan *message.Envelope { return c.recv }

func (c *WSChannel) Done() <-chan struct{} { return c.done }

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.conn.Close()
	})
	return nil
}

// writePump sends queued frames and keepalive pings
func (c *WSChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived) {
					logger.Error("WebSocket write error: ", err)
				} else {
					logger.Debug("WebSocket write closed: ", err)
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("WebSocket ping failed: ", err)
				return
			}
		}
	}
}

// readPump decodes inbound frames until the connection drops
func (c *WSChannel) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// CloseGoingAway (1001): tab or popup closed
			// CloseNoStatusReceived (1005): closed without status
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error: ", err)
			} else {
				logger.Debug("WebSocket channel disconnected: ", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := message.Unmarshal(data)
		if err != nil {
			logger.Warn("dropping malformed frame on ", c.name, ": ", err)
			continue
		}

		select {
		case c.recv <- env:
		case <-c.done:
			return
		}
	}
}
