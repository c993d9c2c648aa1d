package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/protocol"
)

// session owns one socket. readLoop handles inbound frames; writeLoop is the only writer.
// Subscribe and unsubscribe run on writeLoop, so subscription_succeeded is always written
// before the first event of the new channel.
type session struct {
	handler    *Handler
	ws         *websocket.Conn
	conn       *chatrelay.Connection
	control    chan protocol.Frame
	membership chan protocol.Frame
}

func (s *session) readLoop() {
	defer s.conn.Close()

	h := s.handler
	s.ws.SetReadLimit(h.maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(h.pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.logger.Warnf("ws: readLoop socket_id=%s: %v", s.conn.SocketID(), err)
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(h.pongWait))

		f, err := protocol.Decode(raw)
		if err != nil {
			s.sendError(protocol.CodeBadRequest, err.Error())
			continue
		}
		s.dispatch(f)
	}
}

func (s *session) dispatch(f protocol.Frame) {
	switch f.Event {
	case protocol.EventPing:
		s.send(protocol.Frame{Event: protocol.EventPong})

	case protocol.EventSubscribe, protocol.EventUnsubscribe:
		select {
		case s.membership <- f:
		case <-s.conn.Done():
		default:
			s.handler.logger.Warnf("ws: membership queue full socket_id=%s", s.conn.SocketID())
			s.conn.Close()
		}

	case protocol.EventPong:

	default:
		s.sendError(protocol.CodeBadRequest, "unsupported event "+f.Event)
	}
}

// changeMembership applies a subscribe or unsubscribe frame and returns the reply to write.
func (s *session) changeMembership(f protocol.Frame) (protocol.Frame, bool) {
	ctx := context.Background()

	if f.Event == protocol.EventUnsubscribe {
		var unsub protocol.Unsubscribe
		if err := f.DecodeData(&unsub); err != nil {
			return errorFrame(protocol.CodeBadRequest, err.Error())
		}
		s.conn.Unsubscribe(ctx, unsub.Channel)
		return protocol.Frame{}, false
	}

	var sub protocol.Subscribe
	if err := f.DecodeData(&sub); err != nil {
		return errorFrame(protocol.CodeBadRequest, err.Error())
	}
	if err := s.conn.Subscribe(ctx, sub.Channel, sub.Auth); err != nil {
		s.handler.logger.Debugf("ws: subscribe rejected socket_id=%s channel=%s: %v", s.conn.SocketID(), sub.Channel, err)
		return errorFrame(protocol.CodeUnauthorized, "subscription to "+sub.Channel+" denied")
	}
	return protocol.Frame{Event: protocol.EventSubscriptionSucceeded, Channel: sub.Channel}, true
}

func errorFrame(code int, message string) (protocol.Frame, bool) {
	f, err := protocol.NewFrame(protocol.EventError, "", protocol.Error{Code: code, Message: message})
	return f, err == nil
}

func (s *session) sendError(code int, message string) {
	if f, ok := errorFrame(code, message); ok {
		s.send(f)
	}
}

// send queues a control frame. A peer that does not drain its control queue is dropped.
func (s *session) send(f protocol.Frame) {
	select {
	case s.control <- f:
	case <-s.conn.Done():
	default:
		s.handler.logger.Warnf("ws: control queue full socket_id=%s", s.conn.SocketID())
		s.conn.Close()
	}
}

func (s *session) writeLoop() {
	h := s.handler
	ticker := time.NewTicker(h.pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		_ = s.ws.Close()
		s.conn.Close()
	}()

	established, err := protocol.NewFrame(protocol.EventConnectionEstablished, "", protocol.ConnectionEstablished{
		SocketID:        s.conn.SocketID(),
		ActivityTimeout: int(h.pongWait / time.Second),
	})
	if err != nil || !s.write(websocket.TextMessage, established) {
		return
	}

	for {
		select {
		case f := <-s.control:
			if !s.write(websocket.TextMessage, f) {
				return
			}

		case f := <-s.membership:
			if reply, ok := s.changeMembership(f); ok && !s.write(websocket.TextMessage, reply) {
				return
			}

		case ev := <-s.conn.Events():
			if !s.write(websocket.TextMessage, protocol.Frame{Event: ev.Name, Channel: ev.Channel, Data: ev.Data}) {
				return
			}

		case <-s.conn.Done():
			s.goodbye()
			return

		case <-ticker.C:
			if !s.write(websocket.PingMessage, protocol.Frame{}) {
				return
			}
		}
	}
}

// goodbye tells the peer why the relay closed the connection.
func (s *session) goodbye() {
	var code int
	switch s.conn.Reason() {
	case chatrelay.ReasonBufferOverflow:
		code = protocol.CodeOverCapacity
	case chatrelay.ReasonHubClosed:
		code = protocol.CodeReconnect
	default:
		return
	}
	if f, err := protocol.NewFrame(protocol.EventError, "", protocol.Error{Code: code, Message: s.conn.Reason()}); err == nil {
		s.write(websocket.TextMessage, f)
	}
	_ = write(s.ws, s.handler.writeWait, websocket.CloseMessage, protocol.Frame{})
}

func (s *session) write(messageType int, f protocol.Frame) bool {
	if err := write(s.ws, s.handler.writeWait, messageType, f); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.handler.logger.Warnf("ws: writeLoop socket_id=%s: %v", s.conn.SocketID(), err)
		}
		return false
	}
	return true
}
