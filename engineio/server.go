package engineio

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Protocol is the Engine.IO protocol revision served
const Protocol = "4"

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds Engine.IO server configuration
type Config struct {
	PingInterval int // milliseconds
	PingTimeout  int // milliseconds
	MaxPayload   int // bytes, applied as the WebSocket read limit

	// CheckOrigin defaults to accepting every origin
	CheckOrigin func(r *http.Request) bool

	Logger *zap.Logger
}

// DefaultConfig returns the Engine.IO reference defaults
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25000,
		PingTimeout:  20000,
		MaxPayload:   1e6,
	}
}

// Server accepts WebSocket connections and runs an Engine.IO session on each
type Server struct {
	config    *Config
	log       *zap.Logger
	upgrader  websocket.Upgrader
	sessions  sync.Map
	onConnect func(*Session)
}

func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		config: config,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func unsupported(query url.Values) string {
	switch {
	case query.Get("EIO") != Protocol:
		return "Unsupported protocol version"
	case query.Get("transport") != "websocket":
		return "Only WebSocket transport is supported"
	}
	return ""
}

// ServeHTTP upgrades the request and starts a session
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if reason := unsupported(r.URL.Query()); reason != "" {
		http.Error(w, reason, http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Upgrade failed", zap.Error(err))
		return
	}

	session, err := s.open(conn)
	if err != nil {
		s.log.Debug("Handshake failed", zap.Error(err))
		conn.Close()
		return
	}

	// Subscribers attach before any frame is read
	if s.onConnect != nil {
		s.onConnect(session)
	}

	session.Start()
}

// open sends the handshake and registers the new session
func (s *Server) open(conn *websocket.Conn) (*Session, error) {
	if s.config.MaxPayload > 0 {
		conn.SetReadLimit(int64(s.config.MaxPayload))
	}

	sid := uuid.NewString()
	handshake, err := EncodeHandshake(sid, s.config)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	session := newSession(sid, conn, s)
	s.sessions.Store(sid, session)
	return session, nil
}

// OnConnect sets the handler receiving each new session before it starts
func (s *Server) OnConnect(fn func(*Session)) {
	s.onConnect = fn
}

func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Close closes every open session
func (s *Server) Close() error {
	s.sessions.Range(func(_, value interface{}) bool {
		value.(*Session).close("server shutdown")
		return true
	})
	return nil
}
