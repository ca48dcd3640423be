package sioserver

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedBinary   = errors.New("got binary data when not reconstructing a packet")
	ErrUnexpectedText     = errors.New("got text data while reconstructing a packet")
	ErrInvalidPlaceholder = errors.New("invalid attachment placeholder")
)

// Decoder turns the frames of one connection back into packets.
//
// Binary packets span one text frame and a fixed number of binary frames
// which must arrive in the order they were encoded. At most one binary
// packet is reassembled at a time. A Decoder is not safe for concurrent use.
type Decoder struct {
	pending     *Packet
	expected    int
	attachments [][]byte
}

// AddText decodes a text frame. It returns a nil packet and nil error when
// the frame starts a binary packet that still waits for attachments.
func (d *Decoder) AddText(data string) (*Packet, error) {
	if d.pending != nil {
		return nil, ErrUnexpectedText
	}

	packet, attachments, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	if attachments == 0 {
		if packet.Type.IsBinary() {
			return finishBinary(packet, nil)
		}
		return packet, nil
	}

	d.pending = packet
	d.expected = attachments
	d.attachments = nil

	return nil, nil
}

// AddBinary feeds one attachment to the packet being reassembled and returns
// the packet once its last attachment arrived.
func (d *Decoder) AddBinary(data []byte) (*Packet, error) {
	if d.pending == nil {
		return nil, ErrUnexpectedBinary
	}

	d.attachments = append(d.attachments, data)
	if len(d.attachments) < d.expected {
		return nil, nil
	}

	packet, attachments := d.pending, d.attachments
	d.Reset()

	return finishBinary(packet, attachments)
}

// Pending reports whether a binary packet is waiting for attachments
func (d *Decoder) Pending() bool {
	return d.pending != nil
}

// Reset drops any partially reassembled packet
func (d *Decoder) Reset() {
	d.pending = nil
	d.expected = 0
	d.attachments = nil
}

func finishBinary(packet *Packet, attachments [][]byte) (*Packet, error) {
	data, err := reconstruct(packet.Data, attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct %s packet: %w", packet.Type, err)
	}
	packet.Data = data
	return packet, nil
}
