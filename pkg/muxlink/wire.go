package muxlink

import (
	"encoding/binary"
	"fmt"
)

// PacketType discriminates the frames of the channel protocol.
type PacketType uint16

const (
	// PT_Data carries stream bytes for one channel.
	PT_Data = PacketType(0)
	// PT_OpenRequest asks the peer to set up a new channel.
	PT_OpenRequest = PacketType(1)
	// PT_Ping is a keepalive. It is always sent on channel 0 and carries no payload.
	PT_Ping = PacketType(2)
	// PT_Refused reports that a requested channel could not be created.
	PT_Refused = PacketType(3)
)

func (pt PacketType) String() string {
	switch pt {
	case PT_Data:
		return "DATA"
	case PT_OpenRequest:
		return "OPEN_REQUEST"
	case PT_Ping:
		return "PING"
	case PT_Refused:
		return "REFUSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(pt))
	}
}

const (
	// HeaderLen is the size of the fixed packet header.
	HeaderLen = 18
	// MaxPayloadLen is the largest payload length accepted from a peer.
	// Senders chunk at ChunkSize, so anything near this limit is a protocol
	// violation rather than data.
	MaxPayloadLen = 1 << 20
	// PingChannel is the reserved channel id used for keepalives.
	PingChannel = uint64(0)
)

// Header is the fixed-size packet header: a big-endian uint16 packet type,
// uint64 channel id, and uint64 payload length.
//
// The channel id is always the id the *sender* assigned to the channel,
// with one exception: PT_Refused answers an open request with the
// requester's own id, so the recipient reads it as a local id.
type Header [HeaderLen]byte

func MakeHeader(pt PacketType, channel uint64, payloadLen int) (h Header) {
	h.SetType(pt)
	h.SetChannel(channel)
	h.SetLength(uint64(payloadLen))
	return h
}

func (h *Header) GetType() PacketType {
	return PacketType(binary.BigEndian.Uint16(h[:2]))
}

func (h *Header) SetType(pt PacketType) {
	binary.BigEndian.PutUint16(h[:2], uint16(pt))
}

func (h *Header) GetChannel() uint64 {
	return binary.BigEndian.Uint64(h[2:10])
}

func (h *Header) SetChannel(id uint64) {
	binary.BigEndian.PutUint64(h[2:10], id)
}

func (h *Header) GetLength() uint64 {
	return binary.BigEndian.Uint64(h[10:18])
}

func (h *Header) SetLength(l uint64) {
	binary.BigEndian.PutUint64(h[10:18], l)
}

func (h Header) String() string {
	return fmt.Sprintf("%v{ch=%d len=%d}", h.GetType(), h.GetChannel(), h.GetLength())
}
