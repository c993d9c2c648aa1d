// Package websocket serves the persistent relay transport over gorilla/websocket.
//
// Each accepted socket becomes a chatrelay.Connection. Frames follow the protocol package
// (Pusher channel events), so Echo/pusher-js clients can attach with the "private-"
// channel prefix and a grant obtained from /broadcasting/auth.
package websocket

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/protocol"
)

const (
	// DefaultWriteWait is the time allowed to write a frame to the peer.
	DefaultWriteWait = 10 * time.Second

	// DefaultPongWait is the time allowed to read the next pong from the peer.
	DefaultPongWait = 60 * time.Second

	// DefaultPingPeriod sends pings to the peer. Must be less than the pong wait.
	DefaultPingPeriod = (DefaultPongWait * 9) / 10

	// DefaultMaxMessageSize caps inbound frames.
	DefaultMaxMessageSize = 16 * 1024

	controlQueueSize = 16
)

// Handler upgrades HTTP requests and bridges sockets to a Hub.
type Handler struct {
	hub            *chatrelay.Hub
	logger         chatrelay.Logger
	appKey         string
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	upgrader       websocket.Upgrader
}

// Option configures a Handler.
type Option func(*Handler) error

// NewHandler creates a Handler.
//
// Required options:
//   - WithHub: the relay connections attach to
func NewHandler(opts ...Option) (*Handler, error) {
	h := &Handler{
		logger:         &chatrelay.NoopLogger{},
		writeWait:      DefaultWriteWait,
		pongWait:       DefaultPongWait,
		pingPeriod:     DefaultPingPeriod,
		maxMessageSize: DefaultMaxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow connections from any Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeConfiguration, "failed to apply websocket option", err)
		}
	}

	if h.hub == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "Hub is required (use WithHub)")
	}

	return h, nil
}

// WithHub sets the relay.
func WithHub(hub *chatrelay.Hub) Option {
	return func(h *Handler) error {
		if hub == nil {
			return fmt.Errorf("hub cannot be nil")
		}
		h.hub = hub
		return nil
	}
}

// WithLogger sets the logger instance.
func WithLogger(logger chatrelay.Logger) Option {
	return func(h *Handler) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		h.logger = logger
		return nil
	}
}

// WithAppKey requires the {key} path value, when present, to equal key.
func WithAppKey(key string) Option {
	return func(h *Handler) error {
		h.appKey = key
		return nil
	}
}

// WithKeepalive sets the ping period and the pong wait. pingPeriod must be shorter.
func WithKeepalive(pingPeriod, pongWait time.Duration) Option {
	return func(h *Handler) error {
		if pingPeriod <= 0 || pongWait <= pingPeriod {
			return fmt.Errorf("invalid keepalive: ping %v, pong %v", pingPeriod, pongWait)
		}
		h.pingPeriod = pingPeriod
		h.pongWait = pongWait
		return nil
	}
}

// WithCheckOrigin replaces the origin check. Default: allow any origin.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Handler) error {
		if check == nil {
			return fmt.Errorf("origin check cannot be nil")
		}
		h.upgrader.CheckOrigin = check
		return nil
	}
}

// ServeHTTP upgrades the request and starts the session loops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if key := r.PathValue("key"); h.appKey != "" && key != "" && key != h.appKey {
		http.Error(w, "unknown app key", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warnf("ws: failed to upgrade: %v", err)
		return
	}

	conn, err := h.hub.Connect()
	if err != nil {
		h.logger.Warnf("ws: hub refused connection: %v", err)
		h.reject(ws, protocol.CodeReconnect, "relay unavailable")
		return
	}

	s := &session{
		handler:    h,
		ws:         ws,
		conn:       conn,
		control:    make(chan protocol.Frame, controlQueueSize),
		membership: make(chan protocol.Frame, controlQueueSize),
	}

	h.logger.Debugf("ws: session started socket_id=%s remote=%s", conn.SocketID(), r.RemoteAddr)

	// Do work in goroutines to return from ServeHTTP and release the request.
	go s.writeLoop()
	go s.readLoop()
}

func (h *Handler) reject(ws *websocket.Conn, code int, message string) {
	if f, err := protocol.NewFrame(protocol.EventError, "", protocol.Error{Code: code, Message: message}); err == nil {
		_ = write(ws, h.writeWait, websocket.TextMessage, f)
	}
	_ = ws.Close()
}

func write(ws *websocket.Conn, wait time.Duration, messageType int, f protocol.Frame) error {
	var bits []byte
	if messageType == websocket.TextMessage {
		var err error
		if bits, err = protocol.Encode(f); err != nil {
			return err
		}
	}
	_ = ws.SetWriteDeadline(time.Now().Add(wait))
	return ws.WriteMessage(messageType, bits)
}
