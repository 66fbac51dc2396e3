package rtp

import "time"

// DefaultJitterBufferSize is the number of decoded packets retained per
// stream.
const DefaultJitterBufferSize = 10

// JitterEntry is one decoded packet held in a [JitterBuffer].
type JitterEntry struct {
	Sequence  uint16
	Timestamp uint32
	PCM       []byte
	ArrivedAt time.Time
}

// JitterBuffer is a bounded FIFO of recently decoded packets. When full, the
// oldest entry is evicted. It is not safe for concurrent use; the owning
// [Decoder] serialises access.
type JitterBuffer struct {
	entries []JitterEntry
	size    int
	evicted uint64
}

// NewJitterBuffer returns a buffer holding at most size entries. A
// non-positive size falls back to [DefaultJitterBufferSize].
func NewJitterBuffer(size int) *JitterBuffer {
	if size <= 0 {
		size = DefaultJitterBufferSize
	}
	return &JitterBuffer{entries: make([]JitterEntry, 0, size), size: size}
}

// Push appends e, evicting the oldest entry when the buffer is full.
func (b *JitterBuffer) Push(e JitterEntry) {
	if len(b.entries) == b.size {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.size-1]
		b.evicted++
	}
	b.entries = append(b.entries, e)
}

// Len returns the number of buffered entries.
func (b *JitterBuffer) Len() int { return len(b.entries) }

// Cap returns the configured capacity.
func (b *JitterBuffer) Cap() int { return b.size }

// Evicted returns how many entries were dropped because the buffer was full.
func (b *JitterBuffer) Evicted() uint64 { return b.evicted }

// Entries returns a copy of the buffered entries, oldest first.
func (b *JitterBuffer) Entries() []JitterEntry {
	out := make([]JitterEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
