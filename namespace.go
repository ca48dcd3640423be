package sioserver

import (
	"sync"

	"go.uber.org/zap"
)

// ConnectHandler is called with each socket that joins a namespace
type ConnectHandler func(*Socket)

// Namespace is a named channel multiplexed over client connections.
// It tracks the sockets currently joined to it.
type Namespace struct {
	name   string
	server *Server

	mu        sync.RWMutex
	sockets   map[string]*Socket
	listeners []ConnectHandler
}

func newNamespace(name string, server *Server) *Namespace {
	return &Namespace{
		name:    name,
		server:  server,
		sockets: make(map[string]*Socket),
	}
}

func (ns *Namespace) Name() string {
	return ns.name
}

// OnConnect registers a listener for sockets joining this namespace.
// Listeners run in registration order.
func (ns *Namespace) OnConnect(handler ConnectHandler) {
	ns.mu.Lock()
	ns.listeners = append(ns.listeners, handler)
	ns.mu.Unlock()
}

// Sockets returns a snapshot of the joined sockets
func (ns *Namespace) Sockets() []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	sockets := make([]*Socket, 0, len(ns.sockets))
	for _, socket := range ns.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

// GetSocket looks up a joined socket by ID
func (ns *Namespace) GetSocket(id string) (*Socket, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	socket, ok := ns.sockets[id]
	return socket, ok
}

// add joins client to the namespace, acknowledges the join to the peer and
// notifies listeners. It returns nil when the client already closed.
func (ns *Namespace) add(client *Client) *Socket {
	socket := newSocket(client, ns)

	// Inserted before attaching so a concurrent teardown always finds it
	ns.mu.Lock()
	ns.sockets[socket.id] = socket
	listeners := append([]ConnectHandler(nil), ns.listeners...)
	ns.mu.Unlock()

	if !client.attach(socket) {
		ns.remove(socket.id)
		return nil
	}

	socket.send(PacketTypeConnect, map[string]interface{}{"sid": socket.id}, nil)
	if socket.detached.Load() {
		return nil
	}

	ns.server.log.Debug("Socket connected",
		zap.String("namespace", ns.name),
		zap.String("socket", socket.id))

	for _, listener := range listeners {
		listener(socket)
	}

	return socket
}

func (ns *Namespace) remove(id string) {
	ns.mu.Lock()
	delete(ns.sockets, id)
	ns.mu.Unlock()
}
