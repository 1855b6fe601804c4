/*
File Name:  Hooks.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Hooks let the caller observe engine events without the engine depending on
any concrete logging sink. The functions are called sequentially and must
not block; a hook that needs to do real work should start a goroutine.
*/

package core

import (
	"github.com/ed2k-go/core/protocol"
	"github.com/google/uuid"
)

// Hooks contains all functions the caller may install. Use nil for unused;
// initHooks fills in no-op defaults so call sites never need a nil check.
type Hooks struct {
	// LogError is called for any error kind from §7 (transient I/O is not reported).
	LogError func(function string, connection uuid.UUID, format string, v ...interface{})

	// LogInfo is called for informational events (unsupported protocol, missing handler, ...).
	LogInfo func(function string, connection uuid.UUID, format string, v ...interface{})

	// ConnectionOpened is called once a Connection becomes alive (outbound connect success or inbound accept).
	ConnectionOpened func(connection *Connection)

	// ConnectionClosed is called once a Connection is swept from the reactor table.
	ConnectionClosed func(connection *Connection)

	// PacketIn is a low-level filter for every complete packet the Framer emits, before dispatch.
	PacketIn func(connection *Connection, packet *protocol.Packet)

	// PacketOut is a low-level filter for every outbound packet, called once when the
	// Connection starts handing that packet to the kernel.
	PacketOut func(connection *Connection, protocol, opcode uint8, payloadLen int)

	// HandlerPanic is called when a caller-registered handler panics; the Dispatcher recovers it (§7.7).
	HandlerPanic func(connection *Connection, protocol, opcode uint8, recovered interface{})
}

func (e *Engine) initHooks() {
	if e.Hooks.LogError == nil {
		e.Hooks.LogError = func(function string, connection uuid.UUID, format string, v ...interface{}) {}
	}
	if e.Hooks.LogInfo == nil {
		e.Hooks.LogInfo = func(function string, connection uuid.UUID, format string, v ...interface{}) {}
	}
	if e.Hooks.ConnectionOpened == nil {
		e.Hooks.ConnectionOpened = func(connection *Connection) {}
	}
	if e.Hooks.ConnectionClosed == nil {
		e.Hooks.ConnectionClosed = func(connection *Connection) {}
	}
	if e.Hooks.PacketIn == nil {
		e.Hooks.PacketIn = func(connection *Connection, packet *protocol.Packet) {}
	}
	if e.Hooks.PacketOut == nil {
		e.Hooks.PacketOut = func(connection *Connection, protocol, opcode uint8, payloadLen int) {}
	}
	if e.Hooks.HandlerPanic == nil {
		e.Hooks.HandlerPanic = func(connection *Connection, protocol, opcode uint8, recovered interface{}) {}
	}
}
