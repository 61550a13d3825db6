package serial

import (
	"strings"
	"sync"
)

// maxErrorOutput bounds how much monitor stderr a session keeps for its diagnostic frames.
const maxErrorOutput = 64 * 1024

// tailBuffer is a bounded, thread-safe buffer that keeps the most recent bytes written to it.
type tailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	maxSize int
}

func newTailBuffer(maxSize int) *tailBuffer {
	if maxSize <= 0 {
		maxSize = maxErrorOutput
	}
	return &tailBuffer{maxSize: maxSize}
}

// Write appends p, dropping bytes from the front once over the limit.
func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.maxSize {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.maxSize:]...)
	}
	return len(p), nil
}

// trimmed returns the contents without surrounding whitespace, as valid UTF-8.
func (b *tailBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.ToValidUTF8(strings.TrimSpace(string(b.buf)), "\uFFFD")
}
