package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4 << 20
)

// TokenFunc returns the bearer token presented when dialing.
type TokenFunc func() (string, error)

// Client is a Channel over a WebSocket connection. Inbound frames are
// dispatched on the read goroutine in arrival order.
type Client struct {
	registry

	url    string
	token  TokenFunc
	dialer *websocket.Dialer
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex
}

// NewClient creates a client for the WebSocket endpoint at url. It does not
// dial until Connect is called.
func NewClient(url string, token TokenFunc, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		bus:    b,
		logger: logger,
	}
}

// Connect dials the endpoint with the stored credential.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	token, err := c.token()
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	c.logger.Info("connecting", zap.String("url", c.url))
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	c.conn = conn
	c.done = done
	go c.readPump(conn)
	go c.pingPump(conn, done)

	c.logger.Info("connected", zap.String("url", c.url))
	c.bus.Emit(bus.KindTransportConnected, c.url)
	return nil
}

// Connected reports whether a connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes req as a single text frame.
func (c *Client) Send(ctx context.Context, req Request) error {
	payload, err := Encode(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.drop(conn, err)
		return fmt.Errorf("write %s: %w", req.Action, err)
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.drop(conn, nil)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) readPump(conn *websocket.Conn) {
	var cause error
	defer func() { c.drop(conn, cause) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = err
			}
			return
		}

		ev, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping frame", zap.Error(err))
			continue
		}
		if f, ok := ev.(MessagesFetched); ok && f.Dropped > 0 {
			c.logger.Warn("dropped invalid messages from fetch response",
				zap.String("room", f.RoomID),
				zap.String("date", f.Date),
				zap.Int("dropped", f.Dropped),
			)
		}
		c.dispatch(ev)
	}
}

func (c *Client) pingPump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.drop(conn, err)
				return
			}
		}
	}
}

// drop forgets conn if it is still current. Later calls for the same
// connection are no-ops.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	_ = conn.Close()
	if cause != nil {
		c.logger.Warn("disconnected", zap.Error(cause))
	} else {
		c.logger.Info("disconnected")
	}
	c.bus.Emit(bus.KindTransportDisconnected, c.url)
}
