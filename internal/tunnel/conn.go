// Package tunnel wraps gorilla websocket connections at the frame level for
// both ends of a tunnel. Gorilla conns panic on concurrent writes, so every
// write goes through one mutex.
package tunnel

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaygate/relaygate/internal/proto"
)

const defaultWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is a frame-oriented wrapper over one websocket connection.
type Conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, writeTimeout: defaultWriteTimeout}
}

// Dial opens a tunnel to wsURL presenting the session token as a bearer
// credential.
func Dial(wsURL, bearer string, handshakeTimeout time.Duration) (*Conn, error) {
	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return wrap(ws), nil
}

// Upgrade turns an authenticated HTTP request into a tunnel connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return wrap(ws), nil
}

// ReadMessage blocks for the next message and returns its raw bytes. Frame
// decoding is left to the caller: a malformed frame is skipped there, not
// treated as a transport failure.
func (c *Conn) ReadMessage() ([]byte, error) {
	if c == nil || c.ws == nil {
		return nil, errors.New("tunnel: connection closed")
	}
	_, raw, err := c.ws.ReadMessage()
	return raw, err
}

// WriteFrame sends one frame as a text message under a write deadline.
func (c *Conn) WriteFrame(f *proto.Frame) error {
	if c == nil || c.ws == nil {
		return errors.New("tunnel: connection closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(f)
}

// CloseWithReason sends a close control message before dropping the socket.
// Used when the hub tears a tunnel down deliberately (heartbeat rejection,
// route replacement).
func (c *Conn) CloseWithReason(code int, reason string) error {
	if c == nil || c.ws == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Close drops the socket without a close handshake.
func (c *Conn) Close() error {
	if c == nil || c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() string {
	if c == nil || c.ws == nil || c.ws.RemoteAddr() == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}
