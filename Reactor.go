/*
File Name:  Reactor.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The Reactor is the single goroutine that owns every live Connection's
socket. It is the only party that calls read/write on those sockets;
Enqueue and the close methods are safe to call from any other goroutine
(§4.5, §5).
*/

package core

import (
	"net"
	"sync"
	"time"
)

// reactor drives I/O for every connection the engine owns.
type reactor struct {
	engine      *Engine
	listener    net.Listener
	connMutex   sync.Mutex // guards connections: the Reactor adds and removes, Engine.Connect adds from its caller's goroutine
	connections map[*Connection]struct{}
	stop        chan struct{}
	done        chan struct{}
}

func newReactor(engine *Engine) *reactor {
	return &reactor{
		engine:      engine,
		connections: make(map[*Connection]struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// add registers a newly created connection. It is called from the Reactor goroutine
// for inbound accepts and from Engine.Connect's caller for outbound connections;
// connMutex serializes it against remove and snapshot.
func (r *reactor) add(c *Connection) {
	r.connMutex.Lock()
	r.connections[c] = struct{}{}
	r.connMutex.Unlock()

	r.engine.Hooks.ConnectionOpened(c)
}

func (r *reactor) remove(c *Connection) {
	r.connMutex.Lock()
	delete(r.connections, c)
	r.connMutex.Unlock()

	r.engine.Hooks.ConnectionClosed(c)
}

func (r *reactor) snapshot() []*Connection {
	r.connMutex.Lock()
	defer r.connMutex.Unlock()

	out := make([]*Connection, 0, len(r.connections))
	for c := range r.connections {
		out = append(out, c)
	}
	return out
}

// run is the reactor loop (§4.5). Each tick: accept, read every readable
// connection, write every writable connection, sweep dead connections, throttle.
func (r *reactor) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		tickStart := time.Now()

		r.acceptOnce()

		for _, c := range r.snapshot() {
			if c.wantsRead() {
				c.read(r.engine.Config.SocketReadSize)
			}
		}

		for _, c := range r.snapshot() {
			if c.wantsWrite() {
				c.write(r.engine.Config.SocketWriteSize)
			}
		}

		r.sweep()

		r.throttle(tickStart)
	}
}

// acceptOnce accepts at most one inbound socket per tick, non-blockingly, matching
// "for each readable socket: if it is the listen socket, accept one inbound socket" (§4.5).
func (r *reactor) acceptOnce() {
	if r.listener == nil {
		return
	}

	type deadlineListener interface {
		SetDeadline(time.Time) error
	}
	if dl, ok := r.listener.(deadlineListener); ok {
		dl.SetDeadline(time.Now())
	}

	conn, err := r.listener.Accept()
	if err != nil {
		return // no pending inbound connection (or a transient accept error)
	}

	if max := r.engine.Config.MaxInboundConnections; max > 0 && len(r.snapshot()) >= max {
		conn.Close() // over capacity: refuse rather than let an unbounded accept queue grow (§5 backpressure)
		return
	}

	r.engine.handleInbound(conn)
}

// sweep removes connections where isAlive() is false, within at most two ticks of
// becoming dead, as required by the liveness property (§8).
func (r *reactor) sweep() {
	for _, c := range r.snapshot() {
		if !c.isAlive() {
			r.remove(c)
		}
	}
}

func (r *reactor) throttle(tickStart time.Time) {
	elapsed := time.Since(tickStart)
	if elapsed < r.engine.Config.ThreadFrequency {
		select {
		case <-r.stop:
		case <-time.After(r.engine.Config.ThreadFrequency - elapsed):
		}
	}
}

func (r *reactor) Stop() {
	close(r.stop)
	if r.listener != nil {
		r.listener.Close()
	}
}
