package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// DefaultWebSocketAddr only listens on loopback.
const DefaultWebSocketAddr = "127.0.0.1:7789"

// WebSocket serves requests from front ends connected over websockets and
// broadcasts events to all of them.
type WebSocket struct {
	router

	addr     string
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue never blocks; a front end that stops reading loses messages.
func (c *wsConn) enqueue(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send channel is full")
	}
}

// NewWebSocket creates a websocket transport that Serve binds to addr.
func NewWebSocket(addr string) *WebSocket {
	if addr == "" {
		addr = DefaultWebSocketAddr
	}
	return &WebSocket{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     localOrigin,
		},
		conns: make(map[*wsConn]struct{}),
	}
}

// localOrigin accepts requests without an Origin and pages served from the
// local machine.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Scheme == "file"
}

// Send broadcasts an event to every connected front end.
func (w *WebSocket) Send(channel string, payload any) error {
	msg, err := event(channel, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.conns {
		if err := c.enqueue(data); err != nil {
			logger.WithError(err).Warn("dropping event for slow client")
		}
	}
	return nil
}

// Clients returns the number of connected front ends.
func (w *WebSocket) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

// Serve listens on the configured address until ctx ends.
func (w *WebSocket) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.addr, err)
	}
	srv := &http.Server{Handler: w, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.WithField("addr", ln.Addr().String()).Info("websocket bridge listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx) // Best effort
	w.closeAll()
	return nil
}

func (w *WebSocket) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.close()
		delete(w.conns, c)
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &wsConn{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	w.mu.Lock()
	w.conns[c] = struct{}{}
	w.mu.Unlock()
	logger.WithField("remote", r.RemoteAddr).Info("front end connected")

	go w.writePump(c)
	w.readPump(r.Context(), c)

	w.mu.Lock()
	delete(w.conns, c)
	w.mu.Unlock()
	c.close()
	logger.WithField("remote", r.RemoteAddr).Info("front end disconnected")
}

func (w *WebSocket) readPump(ctx context.Context, c *wsConn) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Channel == "" {
			logger.Debug("ignoring malformed request")
			continue
		}

		go func() {
			reply, err := json.Marshal(w.dispatch(ctx, msg))
			if err != nil {
				logger.WithError(err).Error("failed to encode reply")
				return
			}
			if err := c.enqueue(reply); err != nil {
				logger.WithError(err).Warn("failed to send reply")
			}
		}()
	}
}

func (w *WebSocket) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.WithError(err).Warn("write error")
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
