/*
File Name:  Dispatcher.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The Dispatcher is the second worker: it drains every live connection's
incoming queue non-blockingly and invokes the caller-registered handler
for (protocol, opcode). It never blocks (§4.6, §5).
*/

package core

import (
	"time"

	"github.com/ed2k-go/core/protocol"
)

// Decoder turns a raw payload into a structured value for one (protocol, opcode) pair.
type Decoder func(payload []byte) (interface{}, error)

// Handler processes a decoded value for a given connection.
type Handler func(value interface{}, connection *Connection)

type handlerEntry struct {
	decoder Decoder
	handler Handler
}

type dispatcher struct {
	engine   *Engine
	handlers map[uint8]map[uint8]handlerEntry
	stop     chan struct{}
	done     chan struct{}
}

func newDispatcher(engine *Engine) *dispatcher {
	return &dispatcher{
		engine:   engine,
		handlers: make(map[uint8]map[uint8]handlerEntry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// register installs a decoder/handler pair for a (protocol, opcode) combination (§6).
func (d *dispatcher) register(proto, opcode uint8, decoder Decoder, handler Handler) {
	byOpcode, ok := d.handlers[proto]
	if !ok {
		byOpcode = make(map[uint8]handlerEntry)
		d.handlers[proto] = byOpcode
	}
	byOpcode[opcode] = handlerEntry{decoder: decoder, handler: handler}
}

// run is the dispatcher loop (§4.6). It never blocks inside a tick.
func (d *dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		tickStart := time.Now()

		for _, c := range d.engine.reactor.snapshot() {
			for {
				raw, ok := c.incoming.Pop()
				if !ok {
					break
				}
				d.processPacket(c, raw)
			}
		}

		d.throttle(tickStart)
	}
}

// processPacket re-validates and decodes one raw framed buffer (§4.6, §7).
func (d *dispatcher) processPacket(c *Connection, raw []byte) {
	pkt, err := protocol.Decode(raw)
	if err != nil {
		d.engine.Hooks.LogError("Dispatcher.processPacket", c.ID, "re-validation failed: %v", err)
		return
	}

	switch pkt.Protocol {
	case protocol.ProtocolOriginal, protocol.ProtocolExtended:
		// handled below via the registered decoder table
	case protocol.ProtocolPackedExt, protocol.ProtocolKademlia, protocol.ProtocolKademliaPacked:
		d.engine.Hooks.LogInfo("Dispatcher.processPacket", c.ID, "unsupported protocol 0x%02X", pkt.Protocol)
		return
	default:
		d.engine.Hooks.LogError("Dispatcher.processPacket", c.ID, "unknown protocol 0x%02X", pkt.Protocol)
		return
	}

	if c.Peer != nil {
		c.Peer.OnPacket(c, pkt.Protocol, pkt.Opcode, pkt.Payload)
	}

	byOpcode, ok := d.handlers[pkt.Protocol]
	if !ok {
		d.engine.Hooks.LogInfo("Dispatcher.processPacket", c.ID, "no handlers registered for protocol 0x%02X", pkt.Protocol)
		return
	}
	entry, ok := byOpcode[pkt.Opcode]
	if !ok {
		d.engine.Hooks.LogInfo("Dispatcher.processPacket", c.ID, "no handler for opcode 0x%02X", pkt.Opcode)
		return
	}

	value, err := entry.decoder(pkt.Payload)
	if err != nil {
		d.engine.Hooks.LogError("Dispatcher.processPacket", c.ID, "decode failed for opcode 0x%02X: %v", pkt.Opcode, err)
		return
	}

	d.invokeHandler(c, pkt.Protocol, pkt.Opcode, entry.handler, value)
}

// invokeHandler recovers a panicking handler so it never takes down the Dispatcher (§7.7).
func (d *dispatcher) invokeHandler(c *Connection, proto, opcode uint8, handler Handler, value interface{}) {
	defer func() {
		if r := recover(); r != nil {
			d.engine.Hooks.HandlerPanic(c, proto, opcode, r)
		}
	}()
	handler(value, c)
}

func (d *dispatcher) throttle(tickStart time.Time) {
	elapsed := time.Since(tickStart)
	if elapsed < d.engine.Config.ThreadFrequency {
		select {
		case <-d.stop:
		case <-time.After(d.engine.Config.ThreadFrequency - elapsed):
		}
	}
}

func (d *dispatcher) Stop() {
	close(d.stop)
}
