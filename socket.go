package sioserver

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventHandler receives the arguments of an event. When the peer asked for
// an acknowledgement the last argument is a func(...interface{}) that sends it.
type EventHandler func(...interface{})

// AckHandler receives the arguments of an acknowledgement
type AckHandler func(...interface{})

// pendingAcks tracks acknowledgements the peer still owes this socket
type pendingAcks struct {
	last     atomic.Int64
	mu       sync.Mutex
	handlers map[int]AckHandler
	closed   bool
}

// register stores handler under a fresh id. It refuses once the acks were
// cleared for good.
func (p *pendingAcks) register(handler AckHandler) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, false
	}

	id := int(p.last.Add(1))
	if p.handlers == nil {
		p.handlers = make(map[int]AckHandler)
	}
	p.handlers[id] = handler
	return id, true
}

// take removes and returns the handler for id
func (p *pendingAcks) take(id int) (AckHandler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	handler, ok := p.handlers[id]
	delete(p.handlers, id)
	return handler, ok
}

func (p *pendingAcks) close() {
	p.mu.Lock()
	p.handlers = nil
	p.closed = true
	p.mu.Unlock()
}

// Socket is a client joined to one namespace
type Socket struct {
	id        string
	client    *Client
	namespace *Namespace
	acks      pendingAcks
	data      sync.Map
	detached  atomic.Bool

	mu           sync.RWMutex
	handlers     map[string][]EventHandler
	onDisconnect []func(string)
}

func newSocket(client *Client, namespace *Namespace) *Socket {
	return &Socket{
		id:        client.ID(),
		client:    client,
		namespace: namespace,
		handlers:  make(map[string][]EventHandler),
	}
}

// ID returns the socket ID, shared with its client
func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) Namespace() *Namespace {
	return s.namespace
}

// Client returns the connection the socket is multiplexed on
func (s *Socket) Client() *Client {
	return s.client
}

// Emit sends an event to the peer
func (s *Socket) Emit(event string, data ...interface{}) error {
	return s.send(PacketTypeEvent, eventArgs(event, data), nil)
}

// EmitWithAck sends an event and calls ack with the arguments the peer
// acknowledges it with. Pending acks are dropped when the socket leaves,
// and emitting on a socket that left is a no-op.
func (s *Socket) EmitWithAck(event string, ack AckHandler, data ...interface{}) error {
	id, ok := s.acks.register(ack)
	if !ok {
		return nil
	}

	err := s.send(PacketTypeEvent, eventArgs(event, data), &id)
	if err != nil {
		s.acks.take(id)
	}
	return err
}

// On registers an event handler
func (s *Socket) On(event string, handler EventHandler) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

// Off removes every handler for event
func (s *Socket) Off(event string) {
	s.mu.Lock()
	delete(s.handlers, event)
	s.mu.Unlock()
}

// Set stores arbitrary data on the socket
func (s *Socket) Set(key string, value interface{}) {
	s.data.Store(key, value)
}

func (s *Socket) Get(key string) (interface{}, bool) {
	return s.data.Load(key)
}

// OnDisconnect registers a handler called with the reason the socket left
func (s *Socket) OnDisconnect(handler func(string)) {
	s.mu.Lock()
	s.onDisconnect = append(s.onDisconnect, handler)
	s.mu.Unlock()
}

// Disconnect leaves the namespace. The connection stays open; use
// Client().Disconnect() to close it.
func (s *Socket) Disconnect() {
	s.send(PacketTypeDisconnect, nil, nil)
	s.leave("server namespace disconnect")
}

func (s *Socket) send(packetType PacketType, data interface{}, id *int) error {
	return s.client.SendPacket(&Packet{
		Type:      packetType,
		Namespace: s.namespace.name,
		Data:      data,
		ID:        id,
	})
}

func (s *Socket) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypeEvent, PacketTypeBinaryEvent:
		s.handleEvent(packet)
	case PacketTypeAck, PacketTypeBinaryAck:
		s.handleAck(packet)
	case PacketTypeDisconnect:
		s.leave("client namespace disconnect")
	default:
		s.client.log.Debug("Ignoring packet",
			zap.String("namespace", s.namespace.name),
			zap.Stringer("type", packet.Type))
	}
}

// handleEvent relies on the decoder having checked the event shape
func (s *Socket) handleEvent(packet *Packet) {
	data := packet.Data.([]interface{})
	event := data[0].(string)

	args := append([]interface{}{}, data[1:]...)
	if packet.ID != nil {
		args = append(args, s.ackFunc(*packet.ID))
	}

	s.mu.RLock()
	handlers := s.handlers[event]
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(args...)
	}
}

// ackFunc answers ack id at most once
func (s *Socket) ackFunc(id int) func(...interface{}) {
	var once sync.Once
	return func(args ...interface{}) {
		once.Do(func() {
			s.send(PacketTypeAck, append([]interface{}{}, args...), &id)
		})
	}
}

func (s *Socket) handleAck(packet *Packet) {
	if packet.ID == nil {
		return
	}

	handler, ok := s.acks.take(*packet.ID)
	if !ok {
		return
	}

	args, _ := packet.Data.([]interface{})
	handler(args...)
}

func (s *Socket) leave(reason string) {
	s.client.detach(s.namespace.name)
	s.handleClose(reason)
}

// handleClose runs once per socket, whichever side ends it
func (s *Socket) handleClose(reason string) {
	if !s.detached.CompareAndSwap(false, true) {
		return
	}

	s.acks.close()

	s.mu.RLock()
	handlers := s.onDisconnect
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(reason)
	}

	s.namespace.remove(s.id)
}

func eventArgs(event string, data []interface{}) []interface{} {
	args := make([]interface{}, 0, len(data)+1)
	args = append(args, event)
	return append(args, data...)
}
