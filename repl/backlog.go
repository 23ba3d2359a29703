package repl

import (
	"errors"
	"sync"
)

// ErrOffsetEvicted reports a read below the backlog window
var ErrOffsetEvicted = errors.New("requested offset no longer in backlog")

// Backlog is a bounded byte buffer over the tail of the replication
// stream. Appends evict from the front once the capacity is exceeded, so
// the window always covers the most recent bytes.
type Backlog struct {
	mu    sync.RWMutex
	buf   []byte
	cap   int
	first int64 // stream offset of buf[0]
}

// NewBacklog creates a backlog holding at most capacity bytes
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = 1 << 20
	}
	return &Backlog{cap: capacity}
}

// Append writes stream bytes at the given starting offset. Offsets must
// be contiguous with previous appends.
func (b *Backlog) Append(offset int64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == 0 {
		b.first = offset
	}
	b.buf = append(b.buf, data...)
	if excess := len(b.buf) - b.cap; excess > 0 {
		b.buf = b.buf[excess:]
		b.first += int64(excess)
		// keep the backing array from growing without bound
		if cap(b.buf) > 2*b.cap {
			b.buf = append(make([]byte, 0, b.cap), b.buf...)
		}
	}
}

// Window returns the stream offsets [first, end) currently held
func (b *Backlog) Window() (first, end int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.first, b.first + int64(len(b.buf))
}

// ReadFrom returns a copy of the stream from the given offset to the end
// of the backlog. Offsets below the window fail with ErrOffsetEvicted.
func (b *Backlog) ReadFrom(offset int64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	end := b.first + int64(len(b.buf))
	if offset < b.first || offset > end {
		return nil, ErrOffsetEvicted
	}
	out := make([]byte, end-offset)
	copy(out, b.buf[offset-b.first:])
	return out, nil
}

// Contains reports whether a partial resync from offset is possible
func (b *Backlog) Contains(offset int64) bool {
	first, end := b.Window()
	return offset >= first && offset <= end
}
