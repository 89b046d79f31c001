package audio

import (
	"testing"
)

func sampleBytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestBufferAppendAndCount(t *testing.T) {
	b := NewBuffer()
	if b.Chunks() != 0 {
		t.Fatalf("expected empty buffer, got %d chunks", b.Chunks())
	}
	b.Append(sampleBytes(1, 2))
	b.Append(sampleBytes(3))
	if got := b.Chunks(); got != 2 {
		t.Fatalf("expected 2 chunks, got %d", got)
	}
}

func TestBufferBytesPreservesInsertionOrder(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte{1, 2})
	b.Append([]byte{3, 4})
	got := b.Bytes()
	want := []byte{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestBufferInt16View(t *testing.T) {
	b := FromChunk(sampleBytes(-1, 0, 32767))
	got := b.Int16()
	want := []int16{-1, 0, 32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestBufferFloat32Normalization(t *testing.T) {
	b := FromChunk(sampleBytes(32767, -32768, 0))
	got := b.Float32()
	if got[2] != 0 {
		t.Fatalf("expected 0 to normalize to 0, got %v", got[2])
	}
	wantMax := float32(32767) / 32768.0
	if got[0] != wantMax {
		t.Fatalf("expected %v, got %v", wantMax, got[0])
	}
	wantMin := float32(-32768) / 32768.0
	if got[1] != wantMin {
		t.Fatalf("expected %v, got %v", wantMin, got[1])
	}
}

func TestFromChunkFactory(t *testing.T) {
	b := FromChunk([]byte{9, 9})
	if b.Chunks() != 1 {
		t.Fatalf("expected single-chunk buffer, got %d chunks", b.Chunks())
	}
}
