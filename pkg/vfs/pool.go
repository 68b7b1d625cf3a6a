package vfs

// Pooled scratch buffers, generalized from the teacher's cipher cache
// pattern (pkg/crypto's sync.RWMutex-guarded map) to a size-classed byte
// pool, per spec §4.2. Allocation is by (ideal, required) size so callers
// can ask for "as much as is convenient, at least this much".

import "sync"

const (
	// PoolAlignment is the minimum alignment pooled buffers are rounded to;
	// spec §4.2 calls this out as "at least the page-like block size".
	PoolAlignment = 4 * 1024

	sizeClassNormalMax = 64 * 1024 * 1024   // 64 MiB ceiling for routine reads.
	sizeClassLargeMax  = 1024 * 1024 * 1024 // 1 GiB ceiling for bulk/continuous reads.
)

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// bufferPool is a process-wide, size-classed free list of scratch buffers.
// The read pipeline is logically stateless with respect to it: a Buffer is
// acquired at the start of a Read and released (via Release) at its end.
type bufferPool struct {
	mu    sync.Mutex
	small [][]byte // capacity <= sizeClassNormalMax
	large [][]byte // capacity <= sizeClassLargeMax
}

var pool = &bufferPool{}

// Buffer is a scratch allocation obtained from the pool. Its contents are
// uninitialized; callers must fill every byte they intend to read.
type Buffer struct {
	data  []byte
	large bool
}

// Bytes returns the usable capacity-backed slice; its length is the size
// requested at Allocate, capped by the size class and rounded up to
// PoolAlignment.
func (b *Buffer) Bytes() []byte { return b.data }

// Allocate returns a Buffer whose capacity is at least
// min(max(ideal, required), size-class-max), per spec §4.2.
func Allocate(ideal, required int) *Buffer {
	return allocateCore(ideal, required, false)
}

// AllocateLarge is the "particularly large" size class (up to 1 GiB).
func AllocateLarge(ideal, required int) *Buffer {
	return allocateCore(ideal, required, true)
}

func allocateCore(ideal, required int, large bool) *Buffer {
	max := sizeClassNormalMax
	if large {
		max = sizeClassLargeMax
	}
	want := ideal
	if required > want {
		want = required
	}
	if want > max {
		want = max
	}
	want = alignUp(want, PoolAlignment)

	pool.mu.Lock()
	list := &pool.small
	if large {
		list = &pool.large
	}
	for i, buf := range *list {
		if cap(buf) >= want {
			*list = append((*list)[:i], (*list)[i+1:]...)
			pool.mu.Unlock()
			return &Buffer{data: buf[:want], large: large}
		}
	}
	pool.mu.Unlock()

	return &Buffer{data: make([]byte, want), large: large}
}

// Release returns the buffer's storage to the pool. Calling Release twice,
// or using b after Release, is a programmer error.
func (b *Buffer) Release() {
	if b == nil || b.data == nil {
		return
	}
	pool.mu.Lock()
	if b.large {
		pool.large = append(pool.large, b.data)
	} else {
		pool.small = append(pool.small, b.data)
	}
	pool.mu.Unlock()
	b.data = nil
}

// Shrink(0) frees the buffer's storage, equivalent to Release, mirroring the
// source's Shrink(0)-frees convention cited in spec §4.2. A nonzero size
// smaller than the current length shortens the buffer to that size.
func (b *Buffer) Shrink(size int) {
	if size == 0 {
		b.Release()
		return
	}
	if size < len(b.data) {
		b.data = b.data[:size]
	}
}
