// Package pktbuf provides single owner byte blocks used to stage wire
// frames around DMA transfers.
package pktbuf

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/kernel"
)

var (
	// ErrExhausted indicates no free packet buffer is left.
	ErrExhausted = errors.New("packet buffer pool exhausted")
	// ErrInvalidBuffer indicates a double free or a buffer from another pool.
	ErrInvalidBuffer = errors.New("invalid packet buffer")
)

// Buffer is a fixed capacity byte block. It has exactly one owner at a
// time, the owner passes it on or frees it.
type Buffer struct {
	pool  *Pool
	index int
	inUse bool
	data  []byte
}

// Bytes returns the whole storage of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b == nil {
		return "pkt(nil)"
	}
	return fmt.Sprintf("pkt#%d", b.index)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Size      int
	Available int
	Allocs    uint64
	Frees     uint64
	Exhausted uint64
	Invalid   uint64
}

// Pool is a fixed set of packet buffers.
type Pool struct {
	cs    kernel.Critical
	bufs  []Buffer
	free  []*Buffer
	stats Stats
}

// NewPool creates count buffers of size bytes each.
func NewPool(count, size int) *Pool {
	if count <= 0 || size <= 0 {
		panic(fmt.Sprintf("pktbuf: invalid pool %dx%d", count, size))
	}
	p := &Pool{
		bufs: make([]Buffer, count),
		free: make([]*Buffer, 0, count),
	}
	storage := make([]byte, count*size)
	for n := range p.bufs {
		b := &p.bufs[n]
		b.pool, b.index = p, n
		b.data = storage[n*size : (n+1)*size : (n+1)*size]
		p.free = append(p.free, b)
	}
	return p
}

// BufferSize returns the capacity of every buffer.
func (p *Pool) BufferSize() int {
	return len(p.bufs[0].data)
}

// Alloc takes a buffer from the pool.
func (p *Pool) Alloc() (*Buffer, error) {
	g := p.cs.Enter()
	n := len(p.free)
	if n == 0 {
		p.stats.Exhausted++
		g.Exit()
		glog.Warning("pktbuf: pool exhausted")
		return nil, ErrExhausted
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	b.inUse = true
	p.stats.Allocs++
	g.Exit()
	return b, nil
}

// Free returns a buffer to the pool. Freeing nil is a no-op.
func (p *Pool) Free(b *Buffer) error {
	if b == nil {
		return nil
	}
	g := p.cs.Enter()
	if b.pool != p || !b.inUse {
		p.stats.Invalid++
		g.Exit()
		glog.Errorf("pktbuf: invalid free of %v", b)
		return ErrInvalidBuffer
	}
	b.inUse = false
	p.free = append(p.free, b)
	p.stats.Frees++
	g.Exit()
	return nil
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	defer p.cs.Enter().Exit()
	return len(p.free)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	defer p.cs.Enter().Exit()
	st := p.stats
	st.Size, st.Available = len(p.bufs), len(p.free)
	return st
}
