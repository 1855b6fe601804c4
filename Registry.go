/*
File Name:  Registry.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The endpoint registry indexes peer objects by IPv4 address so inbound
accepts can be matched to known peers (§3, §4.7). It holds the peer
objects but no Connection; the Reactor alone owns the Connection
references, avoiding the peer -> reactor ownership cycle warned about
in §9.
*/

package core

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/ed2k-go/core/store"
)

// PeerCache is an optional persistent cache of last-seen endpoint addresses,
// surviving engine restarts. See store.PeerCache.
type PeerCache = store.PeerCache

// Endpoint is the capability the registry needs from a peer object, modeled as an
// abstract capability rather than a base class (§9 "Polymorphic peer"): servers and
// clients share this interface without inheriting from a common Connection type.
type Endpoint interface {
	// Address returns the identifying IPv4 address of this peer.
	Address() net.IP

	// OnPacket is invoked by the Dispatcher for every decoded packet belonging to this peer.
	OnPacket(connection *Connection, protocol, opcode uint8, payload []byte)

	// FormatName returns a human-readable identifier for logging.
	FormatName() string

	// Setup (re-)initializes the peer's buffers/queues. Must be idempotent (§4.7).
	Setup()
}

// Registry maps IPv4 addresses to peer objects.
type Registry struct {
	mutex sync.RWMutex
	byIP  map[uint32]Endpoint
	cache *PeerCache // optional persistent cache of last-seen endpoints, nil if disabled
}

func newRegistry(cache *PeerCache) *Registry {
	return &Registry{byIP: make(map[uint32]Endpoint), cache: cache}
}

func ipv4ToUint32(ip net.IP) (value uint32, ok bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

// Register adds or replaces the peer object known for its own Address().
func (r *Registry) Register(peer Endpoint) {
	ip := peer.Address()
	key, ok := ipv4ToUint32(ip)
	if !ok {
		return
	}

	r.mutex.Lock()
	r.byIP[key] = peer
	r.mutex.Unlock()

	if r.cache != nil {
		r.cache.Touch(ip)
	}
}

// Lookup resolves the peer object known for an IPv4 address, if any.
func (r *Registry) Lookup(ip net.IP) (peer Endpoint, found bool) {
	key, ok := ipv4ToUint32(ip)
	if !ok {
		return nil, false
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	peer, found = r.byIP[key]
	return peer, found
}

// Remove deletes the peer object known for an IPv4 address.
func (r *Registry) Remove(ip net.IP) {
	key, ok := ipv4ToUint32(ip)
	if !ok {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.byIP, key)
}

// Resolve matches an inbound socket's remote IP to a peer object, creating one via
// newUnknown if no server or client is already known for that address. Setup is
// always called, idempotently, regardless of origin (§4.7).
func (r *Registry) Resolve(remote net.IP, newUnknown func(net.IP) Endpoint) Endpoint {
	if peer, found := r.Lookup(remote); found {
		peer.Setup()
		return peer
	}

	peer := newUnknown(remote)
	peer.Setup()
	r.Register(peer)
	return peer
}
