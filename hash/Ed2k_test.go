package hash

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestEd2kHashSinglePart(t *testing.T) {
	data := make([]byte, 100)

	want, err := hex.DecodeString("b450415cb857010dc4e169bcd0049912")
	if err != nil {
		t.Fatalf("bad fixture: %v", err)
	}

	got, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}

	if !bytes.Equal(got[:], want) {
		t.Fatalf("got %x want %x", got, want)
	}

	if got != MD4(data) {
		t.Fatalf("single-part file hash must equal the direct MD4 of the data")
	}
}

func TestEd2kHashExactMultipleQuirk(t *testing.T) {
	data := make([]byte, PartSize)

	part1 := MD4(data)
	part2 := MD4(nil)
	var combinedInput []byte
	combinedInput = append(combinedInput, part1[:]...)
	combinedInput = append(combinedInput, part2[:]...)
	want := MD4(combinedInput)

	got, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}

	if got != want {
		t.Fatalf("exact-multiple file must hash as MD4(MD4(part) || MD4(empty)), got %x want %x", got, want)
	}
}

func TestEd2kHashStreamingMatchesOneShot(t *testing.T) {
	data := make([]byte, PartSize+12345)
	for i := range data {
		data[i] = byte(i)
	}

	oneShot, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}

	h := NewPartHasher()
	chunkSizes := []int{1, 3, 7, 4096, 999999}
	offset := 0
	ci := 0
	for offset < len(data) {
		n := chunkSizes[ci%len(chunkSizes)]
		ci++
		if offset+n > len(data) {
			n = len(data) - offset
		}
		h.Write(data[offset : offset+n])
		offset += n
	}
	streamed := h.Sum()

	if oneShot != streamed {
		t.Fatalf("streaming hash must not depend on chunking, got %x want %x", streamed, oneShot)
	}
}
