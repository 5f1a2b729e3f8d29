package wsproto

import "testing"

func TestChunkSplitsAtBoundary(t *testing.T) {
	data := []byte("abcdefghij")
	chunks := Chunk(data, 4)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if string(chunks[0]) != "abcd" || string(chunks[1]) != "efgh" || string(chunks[2]) != "ij" {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestChunkNeverSplitsMultibyteRune(t *testing.T) {
	data := []byte("a€b") // € is 3 bytes, 1 rune
	chunks := Chunk(data, 1)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for _, c := range chunks {
		if CodeUnitLen(c) != 1 {
			t.Errorf("chunk %q has %d code units, want 1", c, CodeUnitLen(c))
		}
	}
	reassembled := append(append(append([]byte{}, chunks[0]...), chunks[1]...), chunks[2]...)
	if string(reassembled) != "a€b" {
		t.Fatalf("reassembled = %q, want a€b", reassembled)
	}
}

func TestChunkEmptyInputProducesNoChunks(t *testing.T) {
	if chunks := Chunk(nil, 10); chunks != nil {
		t.Fatalf("Chunk(nil) = %v, want nil", chunks)
	}
}

func TestChunkCodeUnitLenSumsAcrossChunks(t *testing.T) {
	data := []byte("hello world, this is scrollback")
	chunks := Chunk(data, 5)
	total := 0
	for _, c := range chunks {
		total += CodeUnitLen(c)
	}
	if total != CodeUnitLen(data) {
		t.Fatalf("sum of chunk lengths = %d, want %d", total, CodeUnitLen(data))
	}
}
