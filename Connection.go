/*
File Name:  Connection.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Connection owns one TCP socket: a Framer for the read side, an outstanding
partial write buffer, and the three queues from §3 (incoming, control-out,
data-out). Only the Reactor ever calls read/write; enqueue and the close
methods are safe to call from any goroutine.
*/

package core

import (
	"net"
	"sync/atomic"

	"github.com/ed2k-go/core/protocol"
	"github.com/google/uuid"
)

// half describes the state of one direction of a Connection.
type half int32

const (
	halfOpen half = iota
	halfClosed
)

// Connection is an established or in-progress TCP connection to a peer.
type Connection struct {
	ID   uuid.UUID
	Conn net.Conn

	// Peer is the Endpoint the Registry resolved this connection to, if any
	// (§4.7). Nil until resolution happens, and for connections no registry
	// lookup was ever performed on.
	Peer Endpoint

	engine *Engine
	framer *protocol.Framer

	readHalf  int32 // atomic half
	writeHalf int32 // atomic half

	incoming *packetQueue // fully framed raw packets, ready for the Dispatcher
	control  *packetQueue // outbound control packets (preempt data, §4.3/§4.4)
	data     *packetQueue // outbound bulk-data packets

	current []byte // outstanding partial outbound packet, header included
}

func newConnection(engine *Engine, conn net.Conn) *Connection {
	return &Connection{
		ID:       uuid.New(),
		Conn:     conn,
		engine:   engine,
		framer:   protocol.NewFramer(engine.Config.MaxPayloadSize),
		incoming: newPacketQueue(0), // incoming is never capacity-bounded: the Dispatcher is expected to keep up
		control:  newPacketQueue(0), // control packets are small and rare; never capacity-bounded (§5)
		data:     newPacketQueue(engine.Config.DataQueueCapacity),
	}
}

// ErrClosed is returned by enqueue when the relevant queue has been closed.
type ErrClosed struct{ Queue string }

func (e ErrClosed) Error() string { return "core: " + e.Queue + " queue is closed" }

// Enqueue frames (protocol, opcode, payload) and pushes it onto the control or data
// queue. It is safe to call from any goroutine (§4.4, §5).
func (c *Connection) Enqueue(proto, opcode uint8, payload []byte, control bool) error {
	pkt := &protocol.Packet{Protocol: proto, Opcode: opcode, Payload: payload}
	raw := pkt.Encode()

	queue := c.data
	name := "data"
	if control {
		queue = c.control
		name = "control"
	}

	if !queue.Push(raw) {
		return ErrClosed{Queue: name}
	}
	return nil
}

func loadHalf(h *int32) half      { return half(atomic.LoadInt32(h)) }
func storeHalf(h *int32, v half)  { atomic.StoreInt32(h, int32(v)) }

// read performs one non-blocking read up to maxBytes, runs the Framer over whatever
// arrived, and pushes complete packets into the incoming queue. Returns -1 on EOF,
// peer reset, or local shutdown; 0 on a transient would-block (§4.4).
func (c *Connection) read(maxBytes int) int {
	if loadHalf(&c.readHalf) == halfClosed {
		return -1
	}

	data, err := connReadNonBlocking(c.Conn, maxBytes)
	if len(data) > 0 {
		c.framer.Feed(data)
		packets, ferr := c.framer.Pop()
		for _, p := range packets {
			c.engine.Hooks.PacketIn(c, p)
			c.incoming.Push(p.Encode())
		}
		if ferr != nil {
			// Malformed: size exceeds the configured bound. Close for reading only (§4.7).
			c.engine.Hooks.LogError("Connection.read", c.ID, "malformed packet from %s: %v", c.remoteAddrString(), ferr)
			c.closeReadLocked(false)
			return -1
		}
	}

	if err != nil {
		if isWouldBlock(err) {
			return len(data)
		}
		// EOF, ECONNRESET, EPIPE, or any other fatal read error: close the read half.
		c.closeReadLocked(false)
		return -1
	}

	return len(data)
}

// write emits bytes while the write half is open and maxBytes has not been reached,
// as long as there is an outstanding partial packet or either queue is non-empty.
// Queue selection (control before data) is only reconsidered at packet boundaries,
// so a packet once begun is always completed before the next one starts (§4.4).
func (c *Connection) write(maxBytes int) (written int) {
	for written < maxBytes {
		if loadHalf(&c.writeHalf) == halfClosed {
			return written
		}

		if len(c.current) == 0 {
			if next, ok := c.control.Pop(); ok {
				c.current = next
			} else if next, ok := c.data.Pop(); ok {
				c.current = next
			} else {
				return written // nothing to send
			}
			c.engine.Hooks.PacketOut(c, c.current[0], c.current[5], len(c.current)-protocol.HeaderSize)
		}

		remaining := maxBytes - written
		chunk := c.current
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := connWriteNonBlocking(c.Conn, chunk)
		if n > 0 {
			c.current = c.current[n:]
			written += n
		}
		if err != nil {
			c.closeWriteLocked()
			return written
		}
		if n == 0 {
			return written
		}
	}
	return written
}

// wantsRead reports whether the Reactor should include this connection's socket
// in the read-readiness set.
func (c *Connection) wantsRead() bool {
	return loadHalf(&c.readHalf) == halfOpen
}

// wantsWrite reports whether the Reactor should include this connection's socket
// in the write-readiness set.
func (c *Connection) wantsWrite() bool {
	return loadHalf(&c.writeHalf) == halfOpen && (len(c.current) > 0 || c.control.Len() > 0 || c.data.Len() > 0)
}

// closeRead shuts down the read half. If clearIncoming, the incoming queue is also
// cleared and closed; otherwise already-queued packets remain for the Dispatcher.
func (c *Connection) closeRead(clearIncoming bool) {
	c.closeReadLocked(clearIncoming)
}

func (c *Connection) closeReadLocked(clearIncoming bool) {
	if loadHalf(&c.readHalf) == halfClosed {
		return // idempotent (§5)
	}
	storeHalf(&c.readHalf, halfClosed)
	c.framer.Discard()
	if clearIncoming {
		c.incoming.Close()
	}
}

// closeWrite shuts down the write half, discarding the partial outstanding packet
// and both outbound queues.
func (c *Connection) closeWrite() {
	c.closeWriteLocked()
}

func (c *Connection) closeWriteLocked() {
	if loadHalf(&c.writeHalf) == halfClosed {
		return // idempotent (§5)
	}
	storeHalf(&c.writeHalf, halfClosed)
	c.current = nil
	c.control.Close()
	c.data.Close()
}

// isAlive reports whether either half is open, or the incoming queue still holds
// packets the Dispatcher has not drained (§3).
func (c *Connection) isAlive() bool {
	return loadHalf(&c.readHalf) == halfOpen ||
		loadHalf(&c.writeHalf) == halfOpen ||
		c.incoming.Len() > 0
}

// QueueDepths reports the current length of the incoming, control-out, and
// data-out queues, for introspection (e.g. statusapi).
func (c *Connection) QueueDepths() (incoming, control, data int) {
	return c.incoming.Len(), c.control.Len(), c.data.Len()
}

func (c *Connection) remoteAddrString() string {
	if c.Conn == nil {
		return "<nil>"
	}
	return c.Conn.RemoteAddr().String()
}
