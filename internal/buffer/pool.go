package buffer

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Bucket sizes for encoded artwork. Most covers land between 32KB and 1MB.
var defaultSizes = []int{
	32 * 1024,
	128 * 1024,
	512 * 1024,
	1024 * 1024,
	2 * 1024 * 1024,
	5 * 1024 * 1024,
}

// Pool hands out reusable bytes.Buffers for encoding and downloading artwork.
// Buffers are bucketed by capacity so a large cover does not pin a small
// buffer's slot, and anything grown past the largest bucket is dropped.
type Pool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	puts   atomic.Uint64
	allocs atomic.Uint64
	drops  atomic.Uint64
}

// PoolStats reports pool usage
type PoolStats struct {
	Gets          uint64 `json:"gets"`
	Puts          uint64 `json:"puts"`
	Allocations   uint64 `json:"allocations"`
	Dropped       uint64 `json:"dropped"`
	MaxBufferSize int    `json:"max_buffer_size"`
}

// NewPool creates a pool with the default bucket sizes
func NewPool() *Pool {
	p := &Pool{
		sizes: defaultSizes,
		pools: make([]*sync.Pool, len(defaultSizes)),
	}
	for i, size := range defaultSizes {
		size := size
		p.pools[i] = &sync.Pool{
			New: func() interface{} {
				p.allocs.Add(1)
				return bytes.NewBuffer(make([]byte, 0, size))
			},
		}
	}
	return p
}

// Get returns an empty buffer with capacity for at least sizeHint bytes.
// A non-positive hint selects the smallest bucket.
func (p *Pool) Get(sizeHint int) *bytes.Buffer {
	p.gets.Add(1)

	idx := p.bucketFor(sizeHint)
	if idx < 0 {
		p.allocs.Add(1)
		return bytes.NewBuffer(make([]byte, 0, sizeHint))
	}
	buf := p.pools[idx].Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. Buffers larger than the largest bucket are dropped.
func (p *Pool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	capacity := buf.Cap()
	if capacity > p.sizes[len(p.sizes)-1] {
		p.drops.Add(1)
		return
	}

	// file under the largest bucket the buffer can fully serve
	idx := -1
	for i, size := range p.sizes {
		if size <= capacity {
			idx = i
		}
	}
	if idx < 0 {
		p.drops.Add(1)
		return
	}

	buf.Reset()
	p.puts.Add(1)
	p.pools[idx].Put(buf)
}

// Stats returns pool usage counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Gets:          p.gets.Load(),
		Puts:          p.puts.Load(),
		Allocations:   p.allocs.Load(),
		Dropped:       p.drops.Load(),
		MaxBufferSize: p.sizes[len(p.sizes)-1],
	}
}

func (p *Pool) bucketFor(size int) int {
	if size <= 0 {
		return 0
	}
	for i, bucketSize := range p.sizes {
		if bucketSize >= size {
			return i
		}
	}
	return -1
}

var defaultPool = NewPool()

// Get takes a buffer from the process-wide pool
func Get(sizeHint int) *bytes.Buffer {
	return defaultPool.Get(sizeHint)
}

// Put returns a buffer to the process-wide pool
func Put(buf *bytes.Buffer) {
	defaultPool.Put(buf)
}
