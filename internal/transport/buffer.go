package transport

import (
	"strings"
	"sync"
)

// RingBuffer keeps the most recent bytes written to it, up to a fixed
// capacity. Writes never block and never fail; the oldest bytes fall off the
// front. The process transport drains each slot's pty into one of these so
// Capture stays bounded no matter how chatty the CLI is.
type RingBuffer struct {
	mu   sync.RWMutex
	data []byte
	w    int
	full bool
}

// NewRingBuffer returns a ring buffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes once capacity is exceeded.
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	size := len(b.data)

	// A chunk at or over capacity: only its tail survives.
	if n >= size {
		copy(b.data, p[n-size:])
		b.w = 0
		b.full = true
		return n, nil
	}

	head := copy(b.data[b.w:], p)
	if head < n {
		copy(b.data, p[head:])
	}
	if b.w+n >= size {
		b.full = true
	}
	b.w = (b.w + n) % size
	return n, nil
}

// Bytes returns the buffered content, oldest byte first.
func (b *RingBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		return append([]byte(nil), b.data[:b.w]...)
	}
	out := make([]byte, 0, len(b.data))
	out = append(out, b.data[b.w:]...)
	out = append(out, b.data[:b.w]...)
	return out
}

// Len returns the number of buffered bytes.
func (b *RingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.data)
	}
	return b.w
}

// Reset discards the buffered content.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.w = 0
	b.full = false
}

// tailLines returns at most n trailing lines of s. A trailing newline does
// not count as an extra empty line.
func tailLines(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
