/*
File Name:  Packet.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Basic packet structure of ALL packets:
Offset  Size   Info
0       1      Protocol
1       4      Size of payload data (little-endian)
5       1      Opcode
6       ?      Payload
*/

package protocol

import (
	"encoding/binary"
	"errors"
)

// Recognized protocol bytes. Only Original and Extended are actually decoded;
// the packed/Kademlia variants are recognized but not handled (§4.6).
const (
	ProtocolOriginal       = 0xE3 // original ed2k protocol
	ProtocolExtended       = 0xC5 // extended eMule protocol
	ProtocolPackedExt      = 0xD4 // packed extended protocol, not handled
	ProtocolKademlia       = 0xE4 // Kademlia, not handled
	ProtocolKademliaPacked = 0xE5 // packed Kademlia, not handled
)

// HeaderSize is the number of bytes preceding the payload: protocol + size + opcode.
const HeaderSize = 1 + 4 + 1

// DefaultMaxPayloadSize is the recommended upper bound on a trusted `size` field (10 MiB).
const DefaultMaxPayloadSize = 10 * 1024 * 1024

// Packet is a single framed ed2k/eMule wire packet.
type Packet struct {
	Protocol uint8
	Opcode   uint8
	Payload  []byte
}

// ErrMalformed is returned when a packet header declares a size that cannot be trusted.
var ErrMalformed = errors.New("protocol: malformed packet")

// Encode serializes the packet with its 6-byte header.
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.Protocol
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(p.Payload)))
	buf[5] = p.Opcode
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// PeekLength inspects a buffered header without consuming it. It reports the total
// framed length (header + payload) and whether the header itself is available yet.
func PeekLength(buf []byte) (total int, headerReady bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	size := binary.LittleEndian.Uint32(buf[1:5])
	return HeaderSize + int(size), true
}

// Decode parses a complete framed buffer (as produced by PeekLength/Encode) into a Packet.
// The caller must have already verified len(buf) == total from PeekLength.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, ErrMalformed
	}
	size := binary.LittleEndian.Uint32(buf[1:5])
	if int(size) != len(buf)-HeaderSize {
		return nil, ErrMalformed
	}
	payload := make([]byte, size)
	copy(payload, buf[HeaderSize:])
	return &Packet{Protocol: buf[0], Opcode: buf[5], Payload: payload}, nil
}
