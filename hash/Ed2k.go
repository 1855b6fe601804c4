/*
File Name:  Ed2k.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The ed2k file hash: MD4 over fixed-size parts, concatenated and re-hashed
with MD4 if there is more than one part. Deliberately preserves the
network's long-standing quirk where a file whose size is an exact
multiple of PartSize produces one extra, empty trailing part.
*/

package hash

import (
	"io"

	"golang.org/x/crypto/md4"
)

// PartSize is the primary ed2k file subdivision: 9500 KiB.
const PartSize = 9_728_000

// BlockSize is the secondary subdivision used for partial-file availability
// tracking (outside this engine's scope, exposed for callers): 180 KiB.
const BlockSize = 180 * 1024

// Size is the byte length of an MD4 digest and of the resulting file hash.
const Size = 16

// PartHasher computes the ed2k hash of a stream incrementally, one part at a time.
// Write accepts input of any length, split across any number of calls, before Sum.
type PartHasher struct {
	parts      [][]byte // concatenated MD4 digests, one per completed part
	current    md4.Hash
	currentLen int
}

// NewPartHasher creates a streaming ed2k hasher.
func NewPartHasher() *PartHasher {
	return &PartHasher{current: md4.New()}
}

// Write feeds bytes into the current part, rolling over to a new part whenever
// PartSize bytes have accumulated. It never returns an error, matching hash.Hash.
func (h *PartHasher) Write(p []byte) (n int, err error) {
	total := len(p)
	for len(p) > 0 {
		remaining := PartSize - h.currentLen
		chunk := p
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		h.current.Write(chunk)
		h.currentLen += len(chunk)
		p = p[len(chunk):]

		if h.currentLen == PartSize {
			h.closePart()
		}
	}
	return total, nil
}

func (h *PartHasher) closePart() {
	h.parts = append(h.parts, h.current.Sum(nil))
	h.current = md4.New()
	h.currentLen = 0
}

// Sum finalizes the hash and returns the 16-byte ed2k file hash. The hasher
// must not be reused afterwards.
//
// Algorithm (§4.2): if exactly one part was ever started (no prior rollover)
// its MD4 is the file hash directly. Otherwise the current (possibly empty)
// part is closed out and the file hash is MD4 of all part digests
// concatenated — this is what yields the documented exact-multiple quirk:
// a file of size k*PartSize closes k full parts via Write's rollover, then
// Sum closes one more, empty, trailing part before hashing the digest list.
func (h *PartHasher) Sum() [Size]byte {
	if len(h.parts) == 0 {
		var out [Size]byte
		copy(out[:], h.current.Sum(nil))
		return out
	}

	h.closePart()

	if len(h.parts) == 1 {
		var out [Size]byte
		copy(out[:], h.parts[0])
		return out
	}

	combined := md4.New()
	for _, part := range h.parts {
		combined.Write(part)
	}
	var out [Size]byte
	copy(out[:], combined.Sum(nil))
	return out
}

// HashReader computes the ed2k hash of an entire io.Reader in one call.
func HashReader(r io.Reader) ([Size]byte, error) {
	h := NewPartHasher()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			return h.Sum(), nil
		}
		if err != nil {
			return [Size]byte{}, err
		}
	}
}
