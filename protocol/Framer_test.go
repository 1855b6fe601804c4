// Functions to manually verify framing behavior under arbitrary chunking.
package protocol

import (
	"bytes"
	"testing"
)

func TestFramerSplitHeader(t *testing.T) {
	f := NewFramer(0)

	f.Feed([]byte{0xE3, 0x04, 0x00})
	packets, err := f.Pop()
	if err != nil || len(packets) != 0 {
		t.Fatalf("expected no packets yet, got %d err=%v", len(packets), err)
	}

	f.Feed([]byte{0x00, 0x00, 0x34, 0xDE, 0xAD, 0xBE, 0xEF})
	packets, err = f.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected exactly 1 packet, got %d", len(packets))
	}

	p := packets[0]
	if p.Protocol != 0xE3 || p.Opcode != 0x34 {
		t.Fatalf("header mismatch: %+v", p)
	}
	if !bytes.Equal(p.Payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("payload mismatch: % x", p.Payload)
	}
}

func TestFramerRoundTripArbitraryChunking(t *testing.T) {
	want := []*Packet{
		{Protocol: ProtocolOriginal, Opcode: 0x01, Payload: nil},
		{Protocol: ProtocolExtended, Opcode: 0x02, Payload: []byte("hello")},
		{Protocol: ProtocolOriginal, Opcode: 0x03, Payload: bytes.Repeat([]byte{0xAB}, 500)},
	}

	var wire []byte
	for _, p := range want {
		wire = append(wire, p.Encode()...)
	}

	chunkings := [][]int{
		{1}, // byte-by-byte
		{len(wire)}, // whole buffer at once
		{7, 13, 1, len(wire)}, // mixed
	}

	for _, sizes := range chunkings {
		f := NewFramer(0)
		var got []*Packet
		offset := 0
		ci := 0
		for offset < len(wire) {
			n := sizes[ci%len(sizes)]
			ci++
			if offset+n > len(wire) {
				n = len(wire) - offset
			}
			if n == 0 {
				n = 1
			}
			f.Feed(wire[offset : offset+n])
			offset += n

			packets, err := f.Pop()
			if err != nil {
				t.Fatalf("Pop: %v", err)
			}
			got = append(got, packets...)
		}

		if len(got) != len(want) {
			t.Fatalf("chunking %v: got %d packets, want %d", sizes, len(got), len(want))
		}
		for i := range want {
			if got[i].Protocol != want[i].Protocol || got[i].Opcode != want[i].Opcode || !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Fatalf("chunking %v: packet %d mismatch: got %+v want %+v", sizes, i, got[i], want[i])
			}
		}
	}
}

func TestFramerRejectsOversizedPacket(t *testing.T) {
	f := NewFramer(16)

	p := &Packet{Protocol: ProtocolOriginal, Opcode: 1, Payload: make([]byte, 17)}
	f.Feed(p.Encode())

	_, err := f.Pop()
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
