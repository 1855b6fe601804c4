/*
File Name:  Engine.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Engine is the library's single entry point: it wires together the
Reactor, the Dispatcher, and the endpoint Registry, and exposes the
external interface specified in §6.
*/

package core

import (
	"context"
	"net"
	"strconv"
)

// Engine owns the Reactor, the Dispatcher, and the endpoint Registry.
type Engine struct {
	Config Config
	Hooks  Hooks

	Registry *Registry

	// NewUnknownPeer, if set, instantiates a peer object for an inbound
	// connection whose address matches no registered Endpoint (§4.7). If
	// left nil, unrecognized inbound connections are accepted by the Reactor
	// but never handed to an Endpoint.
	NewUnknownPeer func(net.IP) Endpoint

	reactor    *reactor
	dispatcher *dispatcher
}

// NewEngine creates an Engine. Zero SocketReadSize, SocketWriteSize, MaxPayloadSize,
// ThreadFrequency and ThreadTimeout fields are replaced by DefaultConfig's values;
// the other fields are used as given. peerCache may be nil to disable endpoint
// persistence (§4.7 supplement).
func NewEngine(config Config, peerCache *PeerCache) *Engine {
	config.applyDefaults()

	e := &Engine{
		Config:   config,
		Registry: newRegistry(peerCache),
	}
	e.initHooks()
	e.reactor = newReactor(e)
	e.dispatcher = newDispatcher(e)
	return e
}

// Register installs a decoder/handler pair for a (protocol, opcode) combination (§6).
func (e *Engine) Register(proto, opcode uint8, decoder Decoder, handler Handler) {
	e.dispatcher.register(proto, opcode, decoder, handler)
}

// Start begins listening (if e.Config.ListenAddress is non-empty) and launches the
// Reactor and Dispatcher loops.
func (e *Engine) Start() error {
	if e.Config.ListenAddress != "" {
		listener, err := newReusableListener(e.Config.ListenAddress)
		if err != nil {
			return err
		}
		e.reactor.listener = listener
	}

	go e.reactor.run()
	go e.dispatcher.run()
	return nil
}

// Stop signals both loops to exit and waits up to Config.ThreadTimeout for them to
// join, per §5. It returns once both have stopped or the timeout has elapsed; the
// loops are daemon goroutines that will exit on their own shortly after either way.
func (e *Engine) Stop(ctx context.Context) error {
	e.reactor.Stop()
	e.dispatcher.Stop()

	timeout := e.Config.ThreadTimeout
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, done := range []chan struct{}{e.reactor.done, e.dispatcher.done} {
		select {
		case <-done:
		case <-deadline.Done():
			return deadline.Err()
		}
	}
	return nil
}

// Connect dials an outbound connection synchronously: it blocks until the TCP
// handshake completes or fails, and only then registers the Connection with the
// Reactor. It does not return an in-progress connection. The returned Connection
// is usable for Enqueue right away; the Reactor flushes its queued bytes.
func (e *Engine) Connect(ipv4 net.IP, port int) (*Connection, error) {
	addr := &net.TCPAddr{IP: ipv4, Port: port}

	dialer := net.Dialer{}
	conn, err := dialer.Dial("tcp", addr.String())
	if err != nil {
		return nil, err
	}

	c := newConnection(e, conn)
	e.reactor.add(c)
	return c, nil
}

// Connections returns a snapshot of every connection the Reactor currently owns.
// Safe to call from any goroutine (§9 introspection use case).
func (e *Engine) Connections() []*Connection {
	return e.reactor.snapshot()
}

// ListenPort reconfigures the inbound listener. Must be called before Start.
func (e *Engine) ListenPort(port int) {
	e.Config.ListenAddress = net.JoinHostPort("", strconv.Itoa(port))
}

// handleInbound wraps a freshly accepted socket in a Connection, resolving it
// against the Registry (§4.7). If the remote address matches neither a known
// server nor a known client, NewUnknownPeer instantiates a fresh client peer;
// Setup is called regardless of origin.
func (e *Engine) handleInbound(conn net.Conn) {
	remoteAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return
	}

	c := newConnection(e, conn)
	e.reactor.add(c)

	if e.NewUnknownPeer == nil {
		if peer, found := e.Registry.Lookup(remoteAddr.IP); found {
			peer.Setup()
			c.Peer = peer
		}
		return
	}

	c.Peer = e.Registry.Resolve(remoteAddr.IP, e.NewUnknownPeer)
}

