package sioserver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrEmptyPacket        = errors.New("empty packet")
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidAttachments = errors.New("invalid attachment count")
	ErrInvalidPayload     = errors.New("invalid packet payload")
	ErrBinaryNotAllowed   = errors.New("binary data not allowed for packet type")
)

// PacketType represents Socket.IO packet types
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

// RootNamespace is the namespace every client joins on connection
const RootNamespace = "/"

// Packet represents a Socket.IO packet.
//
// Data holds the decoded JSON payload. Binary attachments appear as []byte
// values anywhere inside []interface{} or map[string]interface{} trees.
type Packet struct {
	Type      PacketType
	Namespace string
	Data      interface{}
	ID        *int
}

// IsBinary reports whether the type carries attachments
func (pt PacketType) IsBinary() bool {
	return pt == PacketTypeBinaryEvent || pt == PacketTypeBinaryAck
}

// Encode encodes a Socket.IO packet into its text frame followed by the
// binary attachments referenced from the text frame, in placeholder order.
//
// EVENT and ACK packets carrying binary data are sent as BINARY_EVENT and
// BINARY_ACK. The packet itself is not modified.
func (p *Packet) Encode() (string, [][]byte, error) {
	typ := p.Type
	data := p.Data

	var attachments [][]byte
	if hasBinary(data) {
		switch typ {
		case PacketTypeEvent, PacketTypeBinaryEvent:
			typ = PacketTypeBinaryEvent
		case PacketTypeAck, PacketTypeBinaryAck:
			typ = PacketTypeBinaryAck
		default:
			return "", nil, fmt.Errorf("%w: %s", ErrBinaryNotAllowed, typ)
		}
		data = deconstruct(data, &attachments)
	} else {
		switch typ {
		case PacketTypeBinaryEvent:
			typ = PacketTypeEvent
		case PacketTypeBinaryAck:
			typ = PacketTypeAck
		}
	}

	if typ < PacketTypeConnect || typ > PacketTypeBinaryAck {
		return "", nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, int(typ))
	}
	if p.Namespace != "" && p.Namespace[0] != '/' {
		return "", nil, fmt.Errorf("%w: namespace %q must start with /", ErrInvalidPayload, p.Namespace)
	}
	if p.ID != nil && *p.ID < 0 {
		return "", nil, fmt.Errorf("%w: negative ack id %d", ErrInvalidPayload, *p.ID)
	}

	var builder strings.Builder

	// Packet type
	builder.WriteString(strconv.Itoa(int(typ)))

	// Attachment count
	if typ.IsBinary() {
		builder.WriteString(strconv.Itoa(len(attachments)))
		builder.WriteByte('-')
	}

	// Namespace (if not default)
	if p.Namespace != "" && p.Namespace != RootNamespace {
		builder.WriteString(p.Namespace)
		builder.WriteByte(',')
	}

	// Ack ID
	if p.ID != nil {
		builder.WriteString(strconv.Itoa(*p.ID))
	}

	// Data
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal packet data: %w", err)
		}
		builder.Write(jsonData)
	}

	return builder.String(), attachments, nil
}

// decodeText parses a single text frame. For binary types it also returns
// the number of attachments the frame announced; placeholders are left in
// Data as decoded.
func decodeText(data string) (*Packet, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyPacket
	}

	packet := &Packet{
		Namespace: RootNamespace,
	}

	pos := 0

	// Parse packet type
	if data[pos] < '0' || data[pos] > '6' {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidPacketType, data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	// Parse attachment count
	attachments := 0
	if packet.Type.IsBinary() {
		end := strings.IndexByte(data[pos:], '-')
		if end <= 0 {
			return nil, 0, ErrInvalidAttachments
		}
		n, err := parseDigits(data[pos : pos+end])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAttachments, err)
		}
		attachments = n
		pos += end + 1
	}

	// Parse namespace
	if pos < len(data) && data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			// Namespace without ack id or data
			packet.Namespace = data[pos:]
			pos = len(data)
		} else {
			packet.Namespace = data[pos : pos+end]
			pos += end + 1
		}
	}

	// Parse ack ID
	if pos < len(data) && isDigit(data[pos]) {
		end := pos
		for end < len(data) && isDigit(data[end]) {
			end++
		}
		id, err := strconv.Atoi(data[pos:end])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad ack id: %v", ErrInvalidPayload, err)
		}
		packet.ID = &id
		pos = end
	}

	// Parse data
	if pos < len(data) {
		if err := json.UnmarshalFromString(data[pos:], &packet.Data); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	if err := validatePayload(packet); err != nil {
		return nil, 0, err
	}

	// Every announced attachment needs a placeholder to land in
	if placeholders := countPlaceholders(packet.Data); attachments > placeholders {
		return nil, 0, fmt.Errorf("%w: %d announced, %d placeholders", ErrInvalidAttachments, attachments, placeholders)
	}

	return packet, attachments, nil
}

func validatePayload(p *Packet) error {
	switch p.Type {
	case PacketTypeConnect:
		if p.Data == nil {
			return nil
		}
		if _, ok := p.Data.(map[string]interface{}); ok {
			return nil
		}
	case PacketTypeDisconnect:
		if p.Data == nil {
			return nil
		}
	case PacketTypeEvent, PacketTypeBinaryEvent:
		if args, ok := p.Data.([]interface{}); ok && len(args) > 0 {
			if _, ok := args[0].(string); ok {
				return nil
			}
		}
	case PacketTypeAck, PacketTypeBinaryAck:
		if _, ok := p.Data.([]interface{}); ok {
			return nil
		}
	case PacketTypeError:
		switch p.Data.(type) {
		case string, map[string]interface{}:
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected data for %s packet", ErrInvalidPayload, p.Type)
}

func parseDigits(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, fmt.Errorf("non-digit %q", s[i])
		}
	}
	return strconv.Atoi(s)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeError:
		return "error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
}
