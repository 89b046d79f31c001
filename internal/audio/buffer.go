// Package audio implements the append-only PCM chunk container (§4.1, C1).
package audio

// Buffer is an ordered, owning sequence of PCM chunks belonging to one
// utterance candidate. It has no internal locking: callers must respect a
// single-writer discipline, and once a Buffer is handed to a worker it is
// conceptually frozen (§4.1, §9 "Audio buffer ownership").
type Buffer struct {
	chunks [][]byte
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// FromChunk builds a single-chunk buffer, the factory mentioned in §4.1.
func FromChunk(chunk []byte) *Buffer {
	b := NewBuffer()
	b.Append(chunk)
	return b
}

// Append adds a chunk to the end of the buffer, in insertion order.
func (b *Buffer) Append(chunk []byte) {
	b.chunks = append(b.chunks, chunk)
}

// Chunks returns the number of chunks currently buffered.
func (b *Buffer) Chunks() int {
	return len(b.chunks)
}

// Bytes concatenates all chunks in insertion order.
func (b *Buffer) Bytes() []byte {
	n := 0
	for _, c := range b.chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Int16 returns the buffer as a signed 16-bit little-endian sample view.
func (b *Buffer) Int16() []int16 {
	raw := b.Bytes()
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}
	return samples
}

// Float32 returns the buffer normalized to [-1.0, 1.0], dividing each
// sample by 32768.0 as required by §4.1.
func (b *Buffer) Float32() []float32 {
	samples := b.Int16()
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
