package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/protocol"
)

// Transport is one open relay connection, framed with the protocol package.
// ReadFrame is called from a single goroutine; WriteFrame and Close from another.
type Transport interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(f protocol.Frame) error
	Close() error
}

// Dialer opens transports to the relay.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Keepalive defaults; they mirror the server's.
const (
	DefaultWriteWait = 10 * time.Second
	DefaultPongWait  = 60 * time.Second
)

// WebSocketDialer dials the relay's WebSocket endpoint with gorilla/websocket.
type WebSocketDialer struct {
	URL      string // ws:// or wss:// URL, e.g. ws://host:8080/app/chatrelay
	Header   http.Header
	Dialer   *websocket.Dialer // nil = websocket.DefaultDialer
	PongWait time.Duration     // read deadline, extended by every frame and server ping
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	pongWait := d.PongWait
	if pongWait <= 0 {
		pongWait = DefaultPongWait
	}

	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeConfiguration, "unknown relay endpoint", err)
		}
		return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "dial relay", err)
	}

	t := &wsTransport{ws: ws, pongWait: pongWait}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(DefaultWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return t, nil
}

type wsTransport struct {
	ws       *websocket.Conn
	pongWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) ReadFrame() (protocol.Frame, error) {
	_, raw, err := t.ws.ReadMessage()
	if err != nil {
		return protocol.Frame{}, chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "read frame", err)
	}
	_ = t.ws.SetReadDeadline(time.Now().Add(t.pongWait))
	return protocol.Decode(raw)
}

func (t *wsTransport) WriteFrame(f protocol.Frame) error {
	raw, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.ws.SetWriteDeadline(time.Now().Add(DefaultWriteWait))
	if err := t.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "write frame", err)
	}
	return nil
}

// Close sends a close frame and releases the socket.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.ws.Close()
	})
	return t.closeErr
}
