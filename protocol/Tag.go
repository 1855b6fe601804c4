/*
File Name:  Tag.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Encode/decode of the extensible ed2k/eMule tag format: a polymorphic
(type, key, value) triple. Old-style tags carry a length-prefixed key;
new-style (Lugdunum) tags set the high bit of the type byte and carry a
single opcode byte as key, which omits the key length prefix and makes
the encoding shorter.
*/

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// Tag type codes, §3.
const (
	TagHash       = 0x01
	TagString     = 0x02
	TagUint32     = 0x03
	TagFloat32    = 0x04
	TagBool       = 0x05
	TagBoolArray  = 0x06
	TagBlob       = 0x07
	TagUint16     = 0x08
	TagUint8      = 0x09
	TagBSOB       = 0x0A
	TagUint64     = 0x0B
	tagShortLo    = 0x11 // inclusive
	tagShortHi    = 0x20 // inclusive
	newStyleBit   = 0x80
)

// ErrEncodeUnsupported is returned by EncodeTag for an unsupported value kind or a
// new-style key that is not a single byte. ErrDecodeTruncated is returned by
// DecodeTagList when the buffer is too short to hold the tag count; DecodeTag
// itself reports failure through its ok result.
var (
	ErrEncodeUnsupported = errors.New("protocol: unsupported tag value")
	ErrDecodeTruncated   = errors.New("protocol: truncated tag")
)

// ValueKind identifies which field of Value is populated (§9 OQ-2).
type ValueKind int

const (
	KindSkip ValueKind = iota
	KindHash
	KindString
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindBlob
)

// Value is a tagged-variant holding exactly one ed2k tag value.
type Value struct {
	Kind   ValueKind
	Hash   [16]byte
	Str    string
	U8     uint8
	U16    uint16
	U32    uint32
	U64    uint64
	F32    float32
	Blob   []byte
}

// Key identifies a tag either by numeric opcode or by a short UTF-8 name.
type Key struct {
	IsOpcode bool
	Opcode   byte
	Name     string
}

// Tag is a decoded (key, value) pair.
type Tag struct {
	Key   Key
	Value Value
}

func (v Value) intMagnitude() (magnitude uint64, isInt bool) {
	switch v.Kind {
	case KindUint8:
		return uint64(v.U8), true
	case KindUint16:
		return uint64(v.U16), true
	case KindUint32:
		return uint64(v.U32), true
	case KindUint64:
		return v.U64, true
	}
	return 0, false
}

// EncodeTag writes one tag to w. newStyle selects the Lugdunum (short) wire form.
// Per §9 OQ-3, the width of an encoded integer is chosen by branching on the
// actual numeric magnitude of the value, never on an undefined/unrelated variable.
func EncodeTag(w *bytes.Buffer, key Key, value Value, newStyle bool) error {
	switch value.Kind {
	case KindHash:
		return encodeTag(w, key, TagHash, value.Hash[:], newStyle)

	case KindString:
		raw := []byte(value.Str)
		// Short-string types only cover lengths 1..16 (0x11..0x20); an empty
		// string has no short-string encoding and falls through below.
		if newStyle && len(raw) >= 1 && len(raw) <= 16 {
			return encodeShortString(w, key, raw)
		}
		return encodeTagLenPrefixed16(w, key, TagString, raw, newStyle)

	case KindBlob:
		return encodeTagLenPrefixed32(w, key, TagBlob, value.Blob, newStyle)

	case KindFloat32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(value.F32))
		return encodeTag(w, key, TagFloat32, buf[:], newStyle)

	case KindUint8, KindUint16, KindUint32, KindUint64:
		magnitude, _ := value.intMagnitude()
		return encodeInt(w, key, magnitude, newStyle)

	default:
		return ErrEncodeUnsupported
	}
}

// encodeInt picks the smallest wire width that fits magnitude. u8/u16 require
// new-style tags (§4.1); otherwise the value is widened to u32 or u64.
func encodeInt(w *bytes.Buffer, key Key, magnitude uint64, newStyle bool) error {
	switch {
	case newStyle && magnitude <= 0xFF:
		return encodeTag(w, key, TagUint8, []byte{byte(magnitude)}, newStyle)
	case newStyle && magnitude <= 0xFFFF:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(magnitude))
		return encodeTag(w, key, TagUint16, buf[:], newStyle)
	case magnitude <= 0xFFFFFFFF:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(magnitude))
		return encodeTag(w, key, TagUint32, buf[:], newStyle)
	default:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], magnitude)
		return encodeTag(w, key, TagUint64, buf[:], newStyle)
	}
}

func encodeShortString(w *bytes.Buffer, key Key, raw []byte) error {
	// Short-string types are 0x10 + length (0x11..0x20 for lengths 1..16), matching
	// the decoder's `typeCode - 0x10` (§3).
	typeByte := byte(0x10 + len(raw))
	return writeTagHeaderAndValue(w, key, typeByte, raw, true)
}

func encodeTagLenPrefixed16(w *bytes.Buffer, key Key, typeCode byte, raw []byte, newStyle bool) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(raw)))
	value := append(append([]byte{}, lenBuf[:]...), raw...)
	return encodeTag(w, key, typeCode, value, newStyle)
}

func encodeTagLenPrefixed32(w *bytes.Buffer, key Key, typeCode byte, raw []byte, newStyle bool) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	value := append(append([]byte{}, lenBuf[:]...), raw...)
	return encodeTag(w, key, typeCode, value, newStyle)
}

func encodeTag(w *bytes.Buffer, key Key, typeCode byte, value []byte, newStyle bool) error {
	return writeTagHeaderAndValue(w, key, typeCode, value, newStyle)
}

func writeTagHeaderAndValue(w *bytes.Buffer, key Key, typeCode byte, value []byte, newStyle bool) error {
	if newStyle {
		w.WriteByte(typeCode | newStyleBit)
		if key.IsOpcode {
			w.WriteByte(key.Opcode)
		} else if len(key.Name) == 1 {
			w.WriteByte(key.Name[0])
		} else {
			return ErrEncodeUnsupported // new-style keys are always a single opcode byte
		}
	} else {
		w.WriteByte(typeCode)
		if key.IsOpcode {
			var lenBuf [2]byte
			binary.LittleEndian.PutUint16(lenBuf[:], 1)
			w.Write(lenBuf[:])
			w.WriteByte(key.Opcode)
		} else {
			var lenBuf [2]byte
			binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(key.Name)))
			w.Write(lenBuf[:])
			w.WriteString(key.Name)
		}
	}
	w.Write(value)
	return nil
}

// DecodeTag reads one tag from buf at offset. It returns the new offset, or ok=false
// once the list is exhausted/truncated so the caller can stop without failing (§9 OQ-4).
func DecodeTag(buf []byte, offset int) (tag Tag, newOffset int, ok bool) {
	if offset >= len(buf) {
		return Tag{}, offset, false
	}

	typeByte := buf[offset]
	offset++
	newStyle := typeByte&newStyleBit != 0
	typeCode := typeByte &^ newStyleBit

	var key Key
	if newStyle {
		if offset >= len(buf) {
			return Tag{}, offset, false
		}
		key = Key{IsOpcode: true, Opcode: buf[offset]}
		offset++
	} else {
		if offset+2 > len(buf) {
			return Tag{}, offset, false
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		offset += 2
		if offset+keyLen > len(buf) {
			return Tag{}, offset, false
		}
		if keyLen == 1 {
			key = Key{IsOpcode: true, Opcode: buf[offset]}
		} else {
			key = Key{Name: string(buf[offset : offset+keyLen])}
		}
		offset += keyLen
	}

	value, newOffset, ok := decodeValue(buf, offset, typeCode, newStyle)
	if !ok {
		return Tag{}, newOffset, false
	}
	return Tag{Key: key, Value: value}, newOffset, true
}

func decodeValue(buf []byte, offset int, typeCode byte, newStyle bool) (value Value, newOffset int, ok bool) {
	need := func(n int) bool { return offset+n <= len(buf) }

	switch {
	case typeCode == TagHash:
		if !need(16) {
			return Value{}, offset, false
		}
		var h [16]byte
		copy(h[:], buf[offset:offset+16])
		return Value{Kind: KindHash, Hash: h}, offset + 16, true

	case typeCode == TagString:
		if !need(2) {
			return Value{}, offset, false
		}
		n := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		offset += 2
		if !need(n) {
			return Value{}, offset, false
		}
		return Value{Kind: KindString, Str: string(buf[offset : offset+n])}, offset + n, true

	case typeCode == TagUint32:
		if !need(4) {
			return Value{}, offset, false
		}
		return Value{Kind: KindUint32, U32: binary.LittleEndian.Uint32(buf[offset : offset+4])}, offset + 4, true

	case typeCode == TagFloat32:
		if !need(4) {
			return Value{}, offset, false
		}
		return Value{Kind: KindFloat32, F32: math.Float32frombits(binary.LittleEndian.Uint32(buf[offset : offset+4]))}, offset + 4, true

	case typeCode == TagBlob:
		if !need(4) {
			return Value{}, offset, false
		}
		n := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
		offset += 4
		if !need(n) {
			return Value{}, offset, false
		}
		blob := make([]byte, n)
		copy(blob, buf[offset:offset+n])
		return Value{Kind: KindBlob, Blob: blob}, offset + n, true

	case typeCode == TagUint16 && newStyle:
		if !need(2) {
			return Value{}, offset, false
		}
		return Value{Kind: KindUint16, U16: binary.LittleEndian.Uint16(buf[offset : offset+2])}, offset + 2, true

	case typeCode == TagUint8 && newStyle:
		if !need(1) {
			return Value{}, offset, false
		}
		return Value{Kind: KindUint8, U8: buf[offset]}, offset + 1, true

	case typeCode == TagUint64:
		if !need(8) {
			return Value{}, offset, false
		}
		return Value{Kind: KindUint64, U64: binary.LittleEndian.Uint64(buf[offset : offset+8])}, offset + 8, true

	case typeCode == TagBool:
		if !need(1) {
			return Value{}, offset, false
		}
		return Value{Kind: KindSkip}, offset + 1, true

	case typeCode == TagBoolArray:
		if !need(2) {
			return Value{}, offset, false
		}
		n := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		offset += 2
		nBytes := (n + 7) / 8
		if !need(nBytes) {
			return Value{}, offset, false
		}
		return Value{Kind: KindSkip}, offset + nBytes, true

	case typeCode == TagBSOB:
		if !need(1) {
			return Value{}, offset, false
		}
		n := int(buf[offset])
		offset++
		if !need(n) {
			return Value{}, offset, false
		}
		return Value{Kind: KindSkip}, offset + n, true

	case newStyle && typeCode >= tagShortLo && typeCode <= tagShortHi:
		n := int(typeCode - 0x10)
		if !need(n) {
			return Value{}, offset, false
		}
		return Value{Kind: KindString, Str: string(buf[offset : offset+n])}, offset + n, true

	default:
		// Unknown type: its size cannot be determined, so the list ends here (§3).
		return Value{}, offset, false
	}
}

// EncodeTagList writes a u32 count followed by each tag, §3.
func EncodeTagList(w *bytes.Buffer, tags []Tag, newStyle bool) error {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(tags)))
	w.Write(countBuf[:])
	for _, t := range tags {
		if err := EncodeTag(w, t.Key, t.Value, newStyle); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTagList reads a u32 count followed by tags, stopping early (without failing)
// at the first unknown/truncated tag or at payload exhaustion (§3, §9 OQ-4).
func DecodeTagList(buf []byte) (tags []Tag, err error) {
	if len(buf) < 4 {
		return nil, ErrDecodeTruncated
	}
	count := int(binary.LittleEndian.Uint32(buf[:4]))
	offset := 4

	for i := 0; i < count; i++ {
		tag, next, ok := DecodeTag(buf, offset)
		if !ok {
			return tags, nil
		}
		if tag.Value.Kind != KindSkip {
			tags = append(tags, tag)
		}
		offset = next
	}
	return tags, nil
}
