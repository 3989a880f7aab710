package websocket

import "sync"

// Buffer is a recyclable, caller-owned scratch buffer.
//
// TryGetContiguousView returns the backing array, offset, and usable
// length for zero-copy access when the pool implementation can provide
// one; ok is false when only the owned-copy fallback in Bytes is
// available.
type Buffer interface {
	TryGetContiguousView() (buf []byte, offset int, length int, ok bool)
	Bytes() []byte
	Release()
}

// BufferFactory hands out [Buffer] instances of at least size bytes.
// A [Conn] asks for one receive buffer per connection lifetime reuse
// cycle; the default implementation recycles backing arrays with a
// [sync.Pool], shared across connections.
type BufferFactory interface {
	Get(size int) Buffer
}

// poolFactory is the default [BufferFactory]: every Buffer it hands out
// supports the zero-copy view (it always owns a contiguous array), so
// implementers relying on the owned-copy fallback only need it for
// pool implementations backed by non-contiguous storage (e.g. a ring
// buffer), which this package does not need.
type poolFactory struct {
	pool sync.Pool
}

// NewBufferFactory returns the default, [sync.Pool]-backed [BufferFactory].
func NewBufferFactory() BufferFactory {
	return &poolFactory{}
}

func (f *poolFactory) Get(size int) Buffer {
	if v := f.pool.Get(); v != nil {
		b := v.(*pooledBuffer) //nolint:errcheck
		if cap(b.data) >= size {
			b.data = b.data[:size]
			return b
		}
	}
	return &pooledBuffer{data: make([]byte, size), owner: f}
}

type pooledBuffer struct {
	data  []byte
	owner *poolFactory
}

func (b *pooledBuffer) TryGetContiguousView() ([]byte, int, int, bool) {
	return b.data, 0, len(b.data), true
}

func (b *pooledBuffer) Bytes() []byte {
	return b.data
}

func (b *pooledBuffer) Release() {
	b.owner.pool.Put(b)
}
