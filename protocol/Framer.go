/*
File Name:  Framer.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Turns an arbitrary byte stream into a sequence of fully-formed packets.
A packet is complete iff at least HeaderSize bytes are buffered and the
buffered length is >= HeaderSize + size. The Framer never delivers a
packet before it is complete, and tolerates any chunking of the input.
*/

package protocol

// Framer slices complete packets out of a growing read buffer.
type Framer struct {
	buf           []byte
	maxPayload    int // 0 means DefaultMaxPayloadSize
	readDiscarded bool
}

// NewFramer creates a Framer. maxPayload <= 0 uses DefaultMaxPayloadSize.
func NewFramer(maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	return &Framer{maxPayload: maxPayload}
}

// Feed appends newly received bytes to the read buffer.
func (f *Framer) Feed(data []byte) {
	if f.readDiscarded {
		return
	}
	f.buf = append(f.buf, data...)
}

// Pop extracts every complete packet currently buffered, in order. It stops at the
// first incomplete packet. If a buffered header declares a size exceeding the
// configured bound, ErrMalformed is returned and no further packets are extracted;
// callers must treat the connection's read half as malformed (§4.7).
func (f *Framer) Pop() (packets []*Packet, err error) {
	for {
		total, headerReady := PeekLength(f.buf)
		if !headerReady {
			return packets, nil
		}
		if total-HeaderSize > f.maxPayload {
			return packets, ErrMalformed
		}
		if len(f.buf) < total {
			return packets, nil
		}

		pkt, decErr := Decode(f.buf[:total])
		if decErr != nil {
			return packets, decErr
		}
		packets = append(packets, pkt)
		f.buf = f.buf[total:]
	}
}

// Discard drops the buffered bytes and prevents further feeding, used on read-half close.
func (f *Framer) Discard() {
	f.buf = nil
	f.readDiscarded = true
}

// Buffered returns the number of bytes currently held that have not yet formed a complete packet.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
