package engineio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const closeGracePeriod = time.Second

type frame struct {
	messageType int
	data        []byte
}

// Session represents an Engine.IO session over one WebSocket.
//
// Message packets surface through OnMessage as text data with the Engine.IO
// type prefix stripped; WebSocket binary messages surface unchanged as
// binary data.
type Session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	log    *zap.Logger

	outgoing   chan frame
	started    atomic.Bool
	writerDone chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}

	timerMu     sync.Mutex
	pingTimer   *time.Timer
	pingTimeout *time.Timer

	mu        sync.RWMutex
	onMessage func([]byte, bool)
	onError   func(error)
	onClose   func(string)
}

func newSession(id string, conn *websocket.Conn, server *Server) *Session {
	return &Session{
		id:         id,
		conn:       conn,
		server:     server,
		log:        server.log.With(zap.String("sid", id)),
		outgoing:   make(chan frame, 256),
		writerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Start starts the session loops
func (s *Session) Start() {
	s.started.Store(true)
	go s.writeLoop()
	go s.readLoop()
	s.schedulePing()
}

// WriteText queues a message packet carrying data
func (s *Session) WriteText(data string) error {
	packet := &Packet{Type: PacketTypeMessage, Data: []byte(data)}
	return s.send(frame{messageType: websocket.TextMessage, data: packet.Encode()})
}

// WriteBinary queues a binary message
func (s *Session) WriteBinary(data []byte) error {
	return s.send(frame{messageType: websocket.BinaryMessage, data: data})
}

// Close closes the session
func (s *Session) Close() error {
	s.close("server disconnect")
	return nil
}

// Closed reports whether the session has been closed
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// OnMessage sets the message handler
func (s *Session) OnMessage(fn func(data []byte, binary bool)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnError sets the error handler
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnClose sets the close handler
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) send(f frame) error {
	if s.Closed() {
		return ErrSessionClosed
	}

	select {
	case s.outgoing <- f:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		// Channel full, connection might be slow
		return ErrSlowClient
	}
}

func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.timerMu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pingTimeout != nil {
			s.pingTimeout.Stop()
		}
		s.timerMu.Unlock()

		// Let the write loop flush what was queued before the close
		if s.started.Load() {
			select {
			case <-s.writerDone:
			case <-time.After(closeGracePeriod):
			}
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		s.conn.Close()

		s.server.sessions.Delete(s.id)
		s.log.Debug("Session closed", zap.String("reason", reason))

		s.mu.RLock()
		handler := s.onClose
		s.mu.RUnlock()

		if handler != nil {
			handler(reason)
		}
	})
}

// fail reports err to the error handler and closes the session
func (s *Session) fail(err error) {
	if s.Closed() {
		return
	}

	s.mu.RLock()
	handler := s.onError
	s.mu.RUnlock()

	if handler != nil {
		handler(err)
	}

	s.close("transport error")
}

func (s *Session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.close("transport close")
			} else {
				s.fail(fmt.Errorf("read failed: %w", err))
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			s.handleMessage(data, true)
			continue
		}

		packet, err := DecodePacket(data)
		if err != nil {
			s.fail(fmt.Errorf("parse error: %w", err))
			return
		}

		s.handlePacket(packet)
	}
}

func (s *Session) writeLoop() {
	err := s.writeFrames()
	close(s.writerDone)

	if err != nil {
		s.fail(fmt.Errorf("write failed: %w", err))
	}
}

func (s *Session) writeFrames() error {
	for {
		select {
		case f := <-s.outgoing:
			if err := s.conn.WriteMessage(f.messageType, f.data); err != nil {
				return err
			}
		case <-s.closed:
			for {
				select {
				case f := <-s.outgoing:
					if err := s.conn.WriteMessage(f.messageType, f.data); err != nil {
						return nil
					}
				default:
					return nil
				}
			}
		}
	}
}

func (s *Session) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypePing:
		s.send(frame{
			messageType: websocket.TextMessage,
			data:        (&Packet{Type: PacketTypePong, Data: packet.Data}).Encode(),
		})
	case PacketTypePong:
		s.handlePong()
	case PacketTypeMessage:
		s.handleMessage(packet.Data, false)
	case PacketTypeClose:
		s.close("transport close")
	}
}

func (s *Session) handlePong() {
	s.timerMu.Lock()
	if s.pingTimeout != nil {
		s.pingTimeout.Stop()
	}
	s.timerMu.Unlock()

	s.schedulePing()
}

func (s *Session) handleMessage(data []byte, binary bool) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(data, binary)
	}
}

func (s *Session) schedulePing() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.Closed() {
		return
	}

	s.pingTimer = time.AfterFunc(time.Duration(s.server.config.PingInterval)*time.Millisecond, func() {
		// Armed before sending so a fast pong always finds it
		s.schedulePingTimeout()
		s.send(frame{
			messageType: websocket.TextMessage,
			data:        (&Packet{Type: PacketTypePing}).Encode(),
		})
	})
}

func (s *Session) schedulePingTimeout() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.Closed() {
		return
	}

	s.pingTimeout = time.AfterFunc(time.Duration(s.server.config.PingTimeout)*time.Millisecond, func() {
		s.close("ping timeout")
	})
}
