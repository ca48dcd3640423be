package sioserver

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ramory-l/sioserver/engineio"
)

// Server represents a Socket.IO server
type Server struct {
	eio        *engineio.Server
	log        *zap.Logger
	namespaces map[string]*Namespace
	nsMu       sync.RWMutex
	clients    sync.Map
}

// Config represents Socket.IO server configuration
type Config struct {
	PingInterval int // milliseconds
	PingTimeout  int // milliseconds
	MaxPayload   int // bytes

	// Logger defaults to a no-op logger
	Logger *zap.Logger
}

// NewServer creates a new Socket.IO server
func NewServer(config *Config) *Server {
	log := zap.NewNop()
	eioConfig := engineio.DefaultConfig()
	if config != nil {
		if config.Logger != nil {
			log = config.Logger
		}
		if config.PingInterval > 0 {
			eioConfig.PingInterval = config.PingInterval
		}
		if config.PingTimeout > 0 {
			eioConfig.PingTimeout = config.PingTimeout
		}
		if config.MaxPayload > 0 {
			eioConfig.MaxPayload = config.MaxPayload
		}
	}
	eioConfig.Logger = log.Named("engineio")

	server := &Server{
		eio:        engineio.NewServer(eioConfig),
		log:        log,
		namespaces: make(map[string]*Namespace),
	}

	// Create default namespace
	server.Of(RootNamespace)

	// Handle Engine.IO connections
	server.eio.OnConnect(func(session *engineio.Session) {
		server.HandleConnection(session)
	})

	return server
}

// Of returns a namespace, creating it if it doesn't exist
func (s *Server) Of(name string) *Namespace {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	s.nsMu.RLock()
	ns, exists := s.namespaces[name]
	s.nsMu.RUnlock()

	if exists {
		return ns
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	// Double-check after acquiring write lock
	if ns, exists := s.namespaces[name]; exists {
		return ns
	}

	ns = newNamespace(name, s)
	s.namespaces[name] = ns

	return ns
}

// OnConnect registers a connection listener on the default namespace
func (s *Server) OnConnect(handler ConnectHandler) {
	s.Of(RootNamespace).OnConnect(handler)
}

// HandleConnection binds a new transport connection to a Client and joins
// it to the root namespace.
func (s *Server) HandleConnection(conn Conn) *Client {
	client := NewClient(s, conn)
	s.clients.Store(client.ID(), client)

	s.log.Debug("Client connected", zap.String("client", client.ID()))

	s.Of(RootNamespace).add(client)

	return client
}

// Clients returns the number of open clients
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/socket.io/") {
		http.NotFound(w, r)
		return
	}

	// Delegate to Engine.IO
	s.eio.ServeHTTP(w, r)
}

// Close closes the server and all connections
func (s *Server) Close() error {
	var err error

	s.clients.Range(func(_, value interface{}) bool {
		client := value.(*Client)
		err = multierr.Append(err, client.shutdown("server shutdown", true))
		return true
	})

	return multierr.Append(err, s.eio.Close())
}

func (s *Server) namespace(name string) (*Namespace, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ns, ok := s.namespaces[name]
	return ns, ok
}

func (s *Server) removeClient(id string) {
	s.clients.Delete(id)
}
