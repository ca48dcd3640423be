package engineio

import (
	"errors"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrEmptyPacket       = errors.New("empty packet")
	ErrInvalidPacketType = errors.New("invalid packet type")
)

// PacketType is the leading digit of an Engine.IO text frame
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

var packetTypeNames = [...]string{"open", "close", "ping", "pong", "message", "upgrade", "noop"}

// Valid reports whether pt is a known packet type
func (pt PacketType) Valid() bool {
	return int(pt) < len(packetTypeNames)
}

func (pt PacketType) String() string {
	if !pt.Valid() {
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
	return packetTypeNames[pt]
}

// Packet is one Engine.IO text frame. Binary messages travel as raw
// WebSocket binary frames and never take this form.
type Packet struct {
	Type PacketType
	Data []byte
}

// Encode renders the frame: the type digit followed by the data
func (p *Packet) Encode() []byte {
	frame := make([]byte, 1, len(p.Data)+1)
	frame[0] = '0' + byte(p.Type)
	return append(frame, p.Data...)
}

// DecodePacket splits a text frame into its type and data
func DecodePacket(frame []byte) (*Packet, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyPacket
	}

	pt := PacketType(frame[0] - '0')
	if frame[0] < '0' || !pt.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPacketType, frame[0])
	}

	packet := &Packet{Type: pt}
	if len(frame) > 1 {
		packet.Data = frame[1:]
	}
	return packet, nil
}

// HandshakeData is the body of the open packet
type HandshakeData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodeHandshake builds the open packet announcing sid and the timing
// parameters of config. Sessions start on WebSocket so no upgrades are offered.
func EncodeHandshake(sid string, config *Config) ([]byte, error) {
	body, err := json.Marshal(HandshakeData{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: config.PingInterval,
		PingTimeout:  config.PingTimeout,
		MaxPayload:   config.MaxPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}

	return (&Packet{Type: PacketTypeOpen, Data: body}).Encode(), nil
}
