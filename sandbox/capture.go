package sandbox

import (
	"fmt"
	"sync"
)

// boundedBuffer keeps the first and last halves of everything written to it
// and counts what fell in between.
type boundedBuffer struct {
	mu      sync.Mutex
	limit   int
	head    []byte
	tail    []byte // ring of the most recent bytes once head is full
	tailPos int
	dropped int64
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	headCap := b.limit / 2
	tailCap := b.limit - headCap

	if room := headCap - len(b.head); room > 0 {
		take := min(room, len(p))
		b.head = append(b.head, p[:take]...)
		p = p[take:]
	}

	for len(p) > 0 {
		if len(b.tail) < tailCap {
			take := min(tailCap-len(b.tail), len(p))
			b.tail = append(b.tail, p[:take]...)
			p = p[take:]
			continue
		}
		// Ring is full: overwrite the oldest byte.
		b.tail[b.tailPos] = p[0]
		b.tailPos = (b.tailPos + 1) % tailCap
		b.dropped++
		p = p[1:]
	}
	return n, nil
}

// String returns the captured text with a warning marker where bytes were dropped.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := make([]byte, 0, len(b.tail))
	tail = append(tail, b.tail[b.tailPos:]...)
	tail = append(tail, b.tail[:b.tailPos]...)

	if b.dropped == 0 {
		return string(b.head) + string(tail)
	}
	return string(b.head) +
		fmt.Sprintf("\n\n[WARNING: output truncated, %d bytes were removed from the middle]\n\n", b.dropped) +
		string(tail)
}

// Truncated reports whether any output was discarded.
func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}
