package stream

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// A BufferPool hands out reusable frame buffers. Buffers go back to the pool when their last
// reference is released.
type BufferPool struct {
	pool      sync.Pool
	allocated atomic.Int64
}

// NewBufferPool returns an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// Get returns a buffer of exactly size bytes holding one reference. The contents are whatever the
// previous user left behind.
func (p *BufferPool) Get(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	buf, _ := p.pool.Get().(*Buffer)
	if buf == nil {
		buf = &Buffer{pool: p}
	}
	if cap(buf.data) < size {
		buf.data = make([]byte, size)
		p.allocated.Inc()
	}
	buf.data = buf.data[:size]
	buf.refs.Store(1)
	return buf
}

// Allocations returns how many backing arrays the pool has had to allocate.
func (p *BufferPool) Allocations() int64 {
	return p.allocated.Load()
}

func (p *BufferPool) put(buf *Buffer) {
	p.pool.Put(buf)
}

// A Buffer is a reference counted byte slice. Whoever holds a reference owns it; handing a buffer
// to Send transfers the caller's reference. Using a buffer after its last Release panics.
type Buffer struct {
	data []byte
	refs atomic.Int32
	pool *BufferPool
}

func (b *Buffer) mustBeLive() {
	if b.refs.Load() <= 0 {
		panic("stream: use of released buffer")
	}
}

// Bytes returns the whole buffer including any reserved header space.
func (b *Buffer) Bytes() []byte {
	b.mustBeLive()
	return b.data
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	b.mustBeLive()
	return len(b.data)
}

// Payload returns the bytes after the first headerSize bytes.
func (b *Buffer) Payload(headerSize int) []byte {
	b.mustBeLive()
	if headerSize > len(b.data) {
		return nil
	}
	return b.data[headerSize:]
}

// CopyFrom copies data into the buffer starting at offset. The whole of data must fit.
func (b *Buffer) CopyFrom(offset int, data []byte) error {
	b.mustBeLive()
	if offset < 0 || offset+len(data) > len(b.data) {
		return errors.Errorf("cannot copy %d bytes at offset %d into a %d byte buffer", len(data), offset, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

// Retain adds a reference.
func (b *Buffer) Retain() {
	if b.refs.Inc() <= 1 {
		panic("stream: retain of released buffer")
	}
}

// Release drops a reference. The last release returns the buffer to its pool.
func (b *Buffer) Release() {
	refs := b.refs.Dec()
	switch {
	case refs < 0:
		panic("stream: buffer released too many times")
	case refs == 0 && b.pool != nil:
		b.pool.put(b)
	}
}
