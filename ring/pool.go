// Package ring implements the shared buffer pool and the single-producer/
// single-consumer ring buffers and flow-sets built on top of it.
//
// The pool is backed by an anonymous private mmap region
// (golang.org/x/sys/unix). The mapping belongs to the process that
// creates the pool and is not shared with other processes. The package
// does not attempt to match the original's exact on-wire slab layout,
// which spec.md marks an external-collaborator contract.
package ring

import (
	"sync"

	"golang.org/x/sys/unix"

	ferrors "irmd-go/errors"
)

// Index identifies a slab within the pool's backing arena; valid indices
// run from 0 to Capacity()-1. NoIndex marks "no buffer".
type Index int32

// NoIndex marks the absence of a buffer reference.
const NoIndex Index = -1

type slab struct {
	refcount int32
	data     []byte
}

// Pool is a slab-allocated, reference-counted arena of fixed-size frames.
// A frame is addressed by Index rather than pointer so the same pool can
// be described identically from any process that maps it.
type Pool struct {
	mu        sync.Mutex
	arena     []byte
	slabSize  int
	slabs     []slab
	free      []Index
}

// NewPool creates a Pool of slabCount slabs, each slabSize bytes, backed
// by an anonymous private mmap region.
func NewPool(slabCount, slabSize int) (*Pool, error) {
	if slabCount <= 0 || slabSize <= 0 {
		return nil, ferrors.New(ferrors.EINVAL, "ring.NewPool", "slabCount and slabSize must be positive")
	}

	total := slabCount * slabSize
	arena, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.ENOMEM, "ring.NewPool")
	}

	p := &Pool{
		arena:    arena,
		slabSize: slabSize,
		slabs:    make([]slab, slabCount),
		free:     make([]Index, slabCount),
	}
	for i := 0; i < slabCount; i++ {
		p.slabs[i].data = arena[i*slabSize : (i+1)*slabSize]
		p.free[i] = Index(slabCount - 1 - i)
	}
	return p, nil
}

// Close unmaps the pool's backing arena. Callers must ensure no
// outstanding Index is in use afterward.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.arena == nil {
		return nil
	}
	err := unix.Munmap(p.arena)
	p.arena = nil
	return err
}

// Reserve allocates a slab of at least n bytes and returns its index with
// a refcount of 1. It returns ErrBufferPoolFull when no free slab exists.
func (p *Pool) Reserve(n int) (Index, error) {
	if n > p.slabSize {
		return NoIndex, ferrors.New(ferrors.EINVAL, "ring.Reserve", "requested size exceeds slab size")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return NoIndex, ferrors.ErrBufferPoolFull
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.slabs[idx].refcount = 1
	return idx, nil
}

// Bytes returns the writable slice backing idx, truncated to n bytes.
func (p *Pool) Bytes(idx Index, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx < 0 || int(idx) >= len(p.slabs) {
		return nil, ferrors.New(ferrors.EBADF, "ring.Bytes", "index out of range")
	}
	if p.slabs[idx].refcount <= 0 {
		return nil, ferrors.New(ferrors.EBADF, "ring.Bytes", "index not reserved")
	}
	if n > p.slabSize {
		n = p.slabSize
	}
	return p.slabs[idx].data[:n], nil
}

// Ref increments idx's refcount, used when a second ring (e.g. a
// retransmission copy) takes a reference to the same frame.
func (p *Pool) Ref(idx Index) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx < 0 || int(idx) >= len(p.slabs) {
		return ferrors.New(ferrors.EBADF, "ring.Ref", "index out of range")
	}
	if p.slabs[idx].refcount <= 0 {
		return ferrors.New(ferrors.EBADF, "ring.Ref", "index not reserved")
	}
	p.slabs[idx].refcount++
	return nil
}

// Release decrements idx's refcount, returning the slab to the free list
// once the count reaches zero — matching the C original's "a buffer has a
// refcount and is freed only when the count reaches zero".
func (p *Pool) Release(idx Index) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx < 0 || int(idx) >= len(p.slabs) {
		return ferrors.New(ferrors.EBADF, "ring.Release", "index out of range")
	}
	if p.slabs[idx].refcount <= 0 {
		return ferrors.New(ferrors.EBADF, "ring.Release", "double release")
	}
	p.slabs[idx].refcount--
	if p.slabs[idx].refcount == 0 {
		p.free = append(p.free, idx)
	}
	return nil
}

// Free reports the number of unreserved slabs.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Capacity reports the total number of slabs in the pool.
func (p *Pool) Capacity() int {
	return len(p.slabs)
}
