// Functions to manually verify tag encode/decode round trips.
package protocol

import (
	"bytes"
	"testing"
)

func TestTagShortStringRoundTrip(t *testing.T) {
	for n := 0; n <= 16; n++ {
		raw := make([]byte, n)
		for i := range raw {
			raw[i] = byte('a' + i%26)
		}

		key := Key{IsOpcode: true, Opcode: 5}
		value := Value{Kind: KindString, Str: string(raw)}

		var buf bytes.Buffer
		if err := EncodeTag(&buf, key, value, true); err != nil {
			t.Fatalf("len %d: encode: %v", n, err)
		}

		tag, next, ok := DecodeTag(buf.Bytes(), 0)
		if !ok {
			t.Fatalf("len %d: decode failed", n)
		}
		if next != buf.Len() {
			t.Fatalf("len %d: decode consumed %d of %d bytes", n, next, buf.Len())
		}
		if !tag.Key.IsOpcode || tag.Key.Opcode != 5 {
			t.Fatalf("len %d: key mismatch: %+v", n, tag.Key)
		}
		if tag.Value.Kind != KindString || tag.Value.Str != string(raw) {
			t.Fatalf("len %d: value mismatch: %+v", n, tag.Value)
		}
	}
}

func TestTagNewStyleShortStringKnownBytes(t *testing.T) {
	// key=5, value="Hello" (5 bytes): type byte = 0x10+5=0x15, high bit set -> 0x95.
	key := Key{IsOpcode: true, Opcode: 5}
	value := Value{Kind: KindString, Str: "Hello"}

	var buf bytes.Buffer
	if err := EncodeTag(&buf, key, value, true); err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := append([]byte{0x95, 0x05}, []byte("Hello")...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x want % x", buf.Bytes(), want)
	}
}

func TestTagIntegerWidthSelection(t *testing.T) {
	cases := []struct {
		magnitude uint64
		newStyle  bool
		wantKind  ValueKind
	}{
		{0, true, KindUint8},
		{255, true, KindUint8},
		{256, true, KindUint16},
		{65535, true, KindUint16},
		{65536, true, KindUint32},
		{1, false, KindUint32}, // u8/u16 require new-style; old-style widens to u32
		{1 << 40, true, KindUint64},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		key := Key{IsOpcode: true, Opcode: 1}
		err := encodeInt(&buf, key, c.magnitude, c.newStyle)
		if err != nil {
			t.Fatalf("magnitude %d: encode: %v", c.magnitude, err)
		}

		tag, _, ok := DecodeTag(buf.Bytes(), 0)
		if !ok {
			t.Fatalf("magnitude %d: decode failed", c.magnitude)
		}
		if tag.Value.Kind != c.wantKind {
			t.Fatalf("magnitude %d newStyle=%v: got kind %v want %v", c.magnitude, c.newStyle, tag.Value.Kind, c.wantKind)
		}
		got, _ := tag.Value.intMagnitude()
		if got != c.magnitude {
			t.Fatalf("magnitude %d: round-tripped as %d", c.magnitude, got)
		}
	}
}

func TestTagOldStyleNamedKey(t *testing.T) {
	key := Key{Name: "filename"}
	value := Value{Kind: KindString, Str: "a very long string exceeding sixteen bytes for sure"}

	var buf bytes.Buffer
	if err := EncodeTag(&buf, key, value, false); err != nil {
		t.Fatalf("encode: %v", err)
	}

	tag, next, ok := DecodeTag(buf.Bytes(), 0)
	if !ok || next != buf.Len() {
		t.Fatalf("decode failed or left bytes: ok=%v next=%d len=%d", ok, next, buf.Len())
	}
	if tag.Key.IsOpcode || tag.Key.Name != "filename" {
		t.Fatalf("key mismatch: %+v", tag.Key)
	}
	if tag.Value.Str != value.Str {
		t.Fatalf("value mismatch: %q", tag.Value.Str)
	}
}

func TestTagHashAndBlobRoundTrip(t *testing.T) {
	var h [16]byte
	for i := range h {
		h[i] = byte(i)
	}

	blob := []byte("opaque-payload-bytes")

	var buf bytes.Buffer
	if err := EncodeTag(&buf, Key{IsOpcode: true, Opcode: 1}, Value{Kind: KindHash, Hash: h}, true); err != nil {
		t.Fatalf("encode hash: %v", err)
	}
	if err := EncodeTag(&buf, Key{IsOpcode: true, Opcode: 2}, Value{Kind: KindBlob, Blob: blob}, true); err != nil {
		t.Fatalf("encode blob: %v", err)
	}

	tag1, off1, ok := DecodeTag(buf.Bytes(), 0)
	if !ok || tag1.Value.Kind != KindHash || tag1.Value.Hash != h {
		t.Fatalf("hash tag mismatch: ok=%v %+v", ok, tag1)
	}
	tag2, off2, ok := DecodeTag(buf.Bytes(), off1)
	if !ok || tag2.Value.Kind != KindBlob || !bytes.Equal(tag2.Value.Blob, blob) {
		t.Fatalf("blob tag mismatch: ok=%v %+v", ok, tag2)
	}
	if off2 != buf.Len() {
		t.Fatalf("did not consume entire buffer: %d of %d", off2, buf.Len())
	}
}

func TestTagListSkipsBoolAndStopsAtTruncation(t *testing.T) {
	var buf bytes.Buffer

	// A bool tag is recognized, consumed, and discarded (not surfaced).
	var boolBuf bytes.Buffer
	writeTagHeaderAndValue(&boolBuf, Key{IsOpcode: true, Opcode: 9}, TagBool, []byte{1}, false)

	var keptBuf bytes.Buffer
	EncodeTag(&keptBuf, Key{IsOpcode: true, Opcode: 1}, Value{Kind: KindUint32, U32: 42}, true)

	var all []byte
	all = append(all, boolBuf.Bytes()...)
	all = append(all, keptBuf.Bytes()...)
	all = append(all, []byte{0xFF}...) // unknown/truncated trailing tag type byte

	countBuf := make([]byte, 4)
	countBuf[0] = 3 // claims 3 tags though the payload only cleanly holds 2
	buf.Write(countBuf)
	buf.Write(all)

	tags, err := DecodeTagList(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeTagList returned error instead of stopping early: %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("expected exactly the kept integer tag (bool skipped, trailing truncated), got %d: %+v", len(tags), tags)
	}
	// New-style encoding picks the smallest width that fits, so 42 comes back as a u8.
	if tags[0].Value.Kind != KindUint8 || tags[0].Value.U8 != 42 {
		t.Fatalf("unexpected surviving tag: %+v", tags[0])
	}
}
