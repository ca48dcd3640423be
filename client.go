package sioserver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Conn is the transport connection a Client is layered on.
//
// Implementations must not invoke the registered handlers synchronously from
// WriteText or WriteBinary. engineio.Session satisfies Conn.
type Conn interface {
	// ID returns the stable connection identifier
	ID() string

	// OnMessage registers the handler for inbound text and binary frames
	OnMessage(fn func(data []byte, binary bool))

	// OnError registers the handler for transport failures
	OnError(fn func(err error))

	// OnClose registers the handler called once the connection is closed
	OnClose(fn func(reason string))

	// WriteText queues a text frame
	WriteText(data string) error

	// WriteBinary queues a binary frame
	WriteBinary(data []byte) error

	// Close requests termination of the connection
	Close() error
}

type clientState int

const (
	clientOpen clientState = iota
	clientClosed
)

// Client is one transport connection speaking the Socket.IO protocol.
// It owns the connection, decodes inbound frames and routes packets to the
// namespaces it joined.
type Client struct {
	id     string
	conn   Conn
	server *Server
	log    *zap.Logger

	mu      sync.Mutex
	state   clientState
	decoder Decoder
	sockets map[string]*Socket

	// writeMu keeps the frames of one packet contiguous on the wire
	writeMu sync.Mutex
}

// NewClient wraps conn and subscribes to its data, error and close events
func NewClient(server *Server, conn Conn) *Client {
	c := &Client{
		id:      conn.ID(),
		conn:    conn,
		server:  server,
		log:     server.log.With(zap.String("client", conn.ID())),
		sockets: make(map[string]*Socket),
	}

	conn.OnMessage(c.handleMessage)
	conn.OnError(c.handleError)
	conn.OnClose(c.handleClose)

	return c
}

// ID returns the client ID, which is the transport connection ID
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying transport connection
func (c *Client) Conn() Conn {
	return c.conn
}

// Connected reports whether the client is still open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == clientOpen
}

// SendPacket encodes packet and writes its frames to the connection.
//
// Packets sent after the client closed are dropped without error. A failed
// write closes the client.
func (c *Client) SendPacket(packet *Packet) error {
	text, attachments, err := packet.Encode()
	if err != nil {
		return err
	}

	if err := c.write(text, attachments); err != nil {
		if !c.Connected() {
			// Lost the race with close, the packet is dropped
			return nil
		}

		c.log.Debug("Write failed", zap.Error(err))
		c.shutdown("transport error", true)

		return fmt.Errorf("failed to write %s packet: %w", packet.Type, err)
	}

	return nil
}

func (c *Client) write(text string, attachments [][]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.Connected() {
		return nil
	}

	if err := c.conn.WriteText(text); err != nil {
		return err
	}
	for _, attachment := range attachments {
		if err := c.conn.WriteBinary(attachment); err != nil {
			return err
		}
	}

	return nil
}

// Disconnect closes the connection. It is a no-op on a closed client.
func (c *Client) Disconnect() {
	c.shutdown("server disconnect", true)
}

func (c *Client) handleMessage(data []byte, binary bool) {
	c.mu.Lock()
	if c.state != clientOpen {
		c.mu.Unlock()
		return
	}

	var (
		packet *Packet
		err    error
	)
	if binary {
		packet, err = c.decoder.AddBinary(data)
	} else {
		packet, err = c.decoder.AddText(string(data))
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("Failed to decode packet", zap.Error(err))
		c.SendPacket(&Packet{
			Type:      PacketTypeError,
			Namespace: RootNamespace,
			Data:      "parse error",
		})
		c.shutdown("parse error", true)
		return
	}

	if packet != nil {
		c.dispatch(packet)
	}
}

func (c *Client) handleError(err error) {
	c.log.Debug("Transport error", zap.Error(err))
	c.shutdown("transport error", true)
}

func (c *Client) handleClose(reason string) {
	c.shutdown(reason, false)
}

func (c *Client) dispatch(packet *Packet) {
	if packet.Type == PacketTypeConnect {
		c.connect(packet.Namespace)
		return
	}

	socket, ok := c.socket(packet.Namespace)
	if !ok {
		c.log.Debug("Dropping packet for namespace not joined",
			zap.String("namespace", packet.Namespace),
			zap.Stringer("type", packet.Type))
		return
	}

	socket.handlePacket(packet)
}

func (c *Client) connect(name string) {
	if _, ok := c.socket(name); ok {
		return
	}

	ns, ok := c.server.namespace(name)
	if !ok {
		c.SendPacket(&Packet{
			Type:      PacketTypeError,
			Namespace: name,
			Data:      map[string]interface{}{"message": "Invalid namespace"},
		})
		return
	}

	ns.add(c)
}

func (c *Client) socket(name string) (*Socket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	socket, ok := c.sockets[name]
	return socket, ok
}

// attach records socket as joined. It fails on a closed client.
func (c *Client) attach(socket *Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != clientOpen {
		return false
	}
	c.sockets[socket.namespace.name] = socket
	return true
}

func (c *Client) detach(name string) {
	c.mu.Lock()
	delete(c.sockets, name)
	c.mu.Unlock()
}

// shutdown is the single teardown path. Only the first call transitions
// the client; later calls return immediately, including calls re-entering
// from the transport's close notification.
func (c *Client) shutdown(reason string, closeConn bool) error {
	c.mu.Lock()
	if c.state == clientClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = clientClosed
	c.decoder.Reset()

	sockets := make([]*Socket, 0, len(c.sockets))
	for _, socket := range c.sockets {
		sockets = append(sockets, socket)
	}
	c.sockets = make(map[string]*Socket)
	c.mu.Unlock()

	c.log.Debug("Client closed", zap.String("reason", reason))

	var err error
	if closeConn {
		err = c.conn.Close()
	}

	for _, socket := range sockets {
		socket.handleClose(reason)
	}

	c.server.removeClient(c.id)

	return err
}
