/*
File Name:  PeerCache.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

PeerCache records the last time each IPv4 address was seen, backed by a
Store. A restarted engine can read it back to pre-seed the endpoint
registry with addresses worth reconnecting to, instead of starting cold
(§4.7 supplement).
*/

package store

import (
	"encoding/binary"
	"net"
	"time"
)

// peerTTL is how long a cache entry survives without being touched again.
const peerTTL = 7 * 24 * time.Hour

// PeerCache maps IPv4 addresses to their last-seen time, on top of a Store.
type PeerCache struct {
	backing Store
}

// NewPeerCache wraps a Store as a peer cache. backing is typically a
// PogrebStore for durability across restarts, or a MemoryStore in tests.
func NewPeerCache(backing Store) *PeerCache {
	return &PeerCache{backing: backing}
}

// Touch records ip as seen just now, extending its expiration.
func (p *PeerCache) Touch(ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		return
	}

	now := make([]byte, 8)
	binary.BigEndian.PutUint64(now, uint64(time.Now().Unix()))

	p.backing.StoreExpire(v4, now, time.Now().Add(peerTTL))
}

// LastSeen returns the time ip was last touched, if it is still cached.
func (p *PeerCache) LastSeen(ip net.IP) (seen time.Time, found bool) {
	v4 := ip.To4()
	if v4 == nil {
		return time.Time{}, false
	}

	data, found := p.backing.Get(v4)
	if !found || len(data) < 8 {
		return time.Time{}, false
	}
	return time.Unix(int64(binary.BigEndian.Uint64(data)), 0), true
}

// Forget removes ip from the cache.
func (p *PeerCache) Forget(ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		p.backing.Delete(v4)
	}
}

// Prune deletes all expired entries. Callers that persist across long-running
// processes should invoke this periodically; it is not run automatically.
func (p *PeerCache) Prune() {
	p.backing.ExpireKeys()
}
