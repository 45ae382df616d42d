package pbench

import "sync"

// scratchPool hands out byte slices of a fixed capacity for frame bodies.
type scratchPool struct {
	size     int
	syncPool sync.Pool
}

func newScratchPool(size int) *scratchPool {
	p := &scratchPool{size: size}
	p.syncPool.New = func() interface{} {
		b := make([]byte, 0, size)
		return &b
	}
	return p
}

// Get returns an empty slice with capacity of at least the pool size.
func (p *scratchPool) Get() *[]byte {
	b := p.syncPool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// Put returns b to the pool.
func (p *scratchPool) Put(b *[]byte) {
	if cap(*b) < p.size {
		return
	}
	p.syncPool.Put(b)
}
