package core

import (
	"net"
	"testing"

	"github.com/ed2k-go/core/protocol"
)

// newTestConnection returns a Connection backed by a real loopback TCP socket
// pair. A real socket is required (not net.Pipe): the deadline-based
// non-blocking trick in Socket.go relies on the kernel send/receive buffers
// net.Pipe does not have.
func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptDone := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		acceptDone <- conn
	}()

	local, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial() failed: %v", err)
	}
	remote := <-acceptDone
	if remote == nil {
		t.Fatal("Accept() failed")
	}
	t.Cleanup(func() { remote.Close() })

	e := NewEngine(DefaultConfig(), nil)
	c := newConnection(e, local)
	t.Cleanup(func() { local.Close() })
	return c, remote
}

func TestConnectionControlPreemptsData(t *testing.T) {
	c, remote := newTestConnection(t)

	if err := c.Enqueue(protocol.ProtocolOriginal, 1, []byte("data"), false); err != nil {
		t.Fatalf("Enqueue(data) failed: %v", err)
	}
	if err := c.Enqueue(protocol.ProtocolOriginal, 2, []byte("ctl"), true); err != nil {
		t.Fatalf("Enqueue(control) failed: %v", err)
	}

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 128)
		n, _ := remote.Read(buf)
		done <- buf[:n]
	}()

	// Drive writes until both packets have fully drained.
	for i := 0; i < 100; i++ {
		if c.write(4096) == 0 && len(c.current) == 0 && c.control.Len() == 0 && c.data.Len() == 0 {
			break
		}
	}

	// One read may return both packets; decode only the first framed one.
	got := <-done
	total, ok := protocol.PeekLength(got)
	if !ok || len(got) < total {
		t.Fatalf("first read returned %d bytes, not a complete packet", len(got))
	}
	pkt, err := protocol.Decode(got[:total])
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if pkt.Opcode != 2 {
		t.Fatalf("first packet off the wire had opcode %d, want 2 (control must preempt data)", pkt.Opcode)
	}
}

func TestConnectionNoMidPacketPreemption(t *testing.T) {
	c, remote := newTestConnection(t)

	large := make([]byte, 4096)
	if err := c.Enqueue(protocol.ProtocolOriginal, 1, large, false); err != nil {
		t.Fatalf("Enqueue(data) failed: %v", err)
	}

	readErr := make(chan error, 1)
	readBuf := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8192)
		total := 0
		for total < protocol.HeaderSize+len(large) {
			n, err := remote.Read(buf[total:])
			if err != nil {
				readErr <- err
				return
			}
			total += n
		}
		readBuf <- buf[:total]
	}()

	// Write in small chunks so the partial-packet invariant is actually exercised.
	for i := 0; i < 100 && (len(c.current) > 0 || c.data.Len() > 0); i++ {
		c.write(37)

		// Enqueue a control packet mid-flight: it must NOT appear before the
		// in-progress data packet finishes.
		if i == 3 {
			c.Enqueue(protocol.ProtocolOriginal, 2, []byte("late"), true)
		}
	}
	for c.write(37) > 0 || len(c.current) > 0 {
	}

	select {
	case got := <-readBuf:
		// The read may also hold the start of the late control packet; decode only the data packet.
		pkt, err := protocol.Decode(got[:protocol.HeaderSize+len(large)])
		if err != nil {
			t.Fatalf("Decode() failed: %v", err)
		}
		if pkt.Opcode != 1 {
			t.Fatalf("first fully-read packet had opcode %d, want 1 (the one in progress when control was enqueued)", pkt.Opcode)
		}
	case err := <-readErr:
		t.Fatalf("Read() failed: %v", err)
	}
}

func TestConnectionHalfCloseIsIdempotentAndLiveness(t *testing.T) {
	c, _ := newTestConnection(t)

	if !c.isAlive() {
		t.Fatal("isAlive() = false on a fresh connection")
	}

	c.closeRead(true)
	c.closeRead(true) // must not panic or double-close the queue

	if c.wantsRead() {
		t.Fatal("wantsRead() = true after closeRead")
	}
	if !c.isAlive() {
		t.Fatal("isAlive() = false with the write half still open")
	}

	c.closeWrite()
	c.closeWrite() // idempotent

	if c.isAlive() {
		t.Fatal("isAlive() = true after both halves closed and incoming drained")
	}
}
