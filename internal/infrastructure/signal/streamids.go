package signal

import (
	"sync"

	"pixelfleet/internal/core/domain"
)

// StreamIDPool hands out unique SCTP data-channel stream ids for the
// bridged player pairs of one SFU connection. The scan starts from a
// rotating cursor so just-released ids are not immediately reused.
type StreamIDPool struct {
	mu     sync.Mutex
	bits   []uint64
	size   int
	cursor int
	free   int
}

func NewStreamIDPool(size int) *StreamIDPool {
	return &StreamIDPool{
		bits: make([]uint64, (size+63)/64),
		size: size,
		free: size,
	}
}

// Allocate claims a free stream id, or fails with
// domain.ErrNoAvailableStreamIDs when the pool is exhausted.
func (p *StreamIDPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free == 0 {
		return 0, domain.ErrNoAvailableStreamIDs
	}
	for i := 0; i < p.size; i++ {
		id := (p.cursor + i) % p.size
		if p.bits[id/64]&(1<<(id%64)) == 0 {
			p.bits[id/64] |= 1 << (id % 64)
			p.free--
			p.cursor = (id + 1) % p.size
			return id, nil
		}
	}
	// free said otherwise; keep the invariant honest
	return 0, domain.ErrNoAvailableStreamIDs
}

// Release returns a stream id to the pool. Releasing an id that is not
// allocated is a no-op.
func (p *StreamIDPool) Release(id int) {
	if id < 0 || id >= p.size {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bits[id/64]&(1<<(id%64)) != 0 {
		p.bits[id/64] &^= 1 << (id % 64)
		p.free++
	}
}

// Available returns the number of unallocated ids.
func (p *StreamIDPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}
