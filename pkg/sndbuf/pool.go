// Package sndbuf implements the reference counted pool of fixed size
// sound buffers shared by the playback, capture and network paths.
package sndbuf

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/kernel"
)

// DefaultLen is the default number of samples in a sound buffer.
const DefaultLen = 64

var (
	// ErrExhausted indicates no free buffer is left.
	ErrExhausted = errors.New("sound buffer pool exhausted")
	// ErrInvalidHandle indicates a stale or corrupted handle.
	ErrInvalidHandle = errors.New("invalid sound buffer handle")
)

// Handle refers to a buffer in a Pool. The low 16 bits hold the slot
// index plus one, the high 16 bits the slot generation.
type Handle uint32

const (
	// Nil is the zero Handle and never refers to a buffer.
	Nil Handle = 0
	// Silence is the shared always-silent buffer. It is never allocated
	// or freed and Acquire/Release on it always succeed.
	Silence Handle = ^Handle(0)

	maxSlots = 0xfffe
)

func makeHandle(idx int, gen uint16) Handle {
	return Handle(uint32(gen)<<16 | uint32(idx+1))
}

func (h Handle) index() int {
	return int(h&0xffff) - 1
}

func (h Handle) gen() uint16 {
	return uint16(h >> 16)
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	switch h {
	case Nil:
		return "nil"
	case Silence:
		return "silence"
	}
	return fmt.Sprintf("#%d.%d", h.index(), h.gen())
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

type slot struct {
	ref  uint32
	gen  uint16
	next int
	data []int16
}

// Pool is a fixed capacity arena of sound buffers.
type Pool struct {
	cs      kernel.Critical
	slots   []slot
	free    int
	avail   int
	silence []int16
	stats   Stats
}

// NewPool creates a pool of count buffers with length samples each.
func NewPool(count, length int) *Pool {
	if count <= 0 || count > maxSlots {
		panic(fmt.Sprintf("sndbuf: invalid pool size %d", count))
	}
	if length <= 0 {
		length = DefaultLen
	}
	p := &Pool{
		slots:   make([]slot, count),
		silence: make([]int16, length),
	}
	storage := make([]int16, count*length)
	for n := range p.slots {
		p.slots[n].data = storage[n*length : (n+1)*length : (n+1)*length]
	}
	p.Init()
	return p
}

// Init links all buffers into the free list and resets counters.
// Handles issued before Init become invalid.
func (p *Pool) Init() {
	defer p.cs.Enter().Exit()
	for n := range p.slots {
		s := &p.slots[n]
		if s.ref != 0 {
			s.gen++
		}
		s.ref = 0
		s.next = n + 1
	}
	p.slots[len(p.slots)-1].next = -1
	p.free, p.avail = 0, len(p.slots)
	p.stats = Stats{}
}

// Len returns the number of samples in each buffer.
func (p *Pool) Len() int {
	return len(p.silence)
}

// Alloc takes a buffer off the free list with a single reference.
func (p *Pool) Alloc() (Handle, error) {
	g := p.cs.Enter()
	if p.free < 0 {
		p.stats.Exhausted++
		g.Exit()
		glog.Warning("sndbuf: pool exhausted")
		return Nil, ErrExhausted
	}
	idx := p.free
	s := &p.slots[idx]
	p.free, s.next = s.next, -1
	s.ref = 1
	p.avail--
	p.stats.Allocs++
	h := makeHandle(idx, s.gen)
	g.Exit()
	return h, nil
}

// lookup must be called inside the critical section.
func (p *Pool) lookup(h Handle) *slot {
	idx := h.index()
	if idx < 0 || idx >= len(p.slots) {
		return nil
	}
	s := &p.slots[idx]
	if s.ref == 0 || s.gen != h.gen() {
		return nil
	}
	return s
}

// Acquire adds a reference to a live buffer.
func (p *Pool) Acquire(h Handle) (Handle, error) {
	if h == Silence {
		return h, nil
	}
	g := p.cs.Enter()
	s := p.lookup(h)
	if s == nil {
		p.stats.Invalid++
		g.Exit()
		glog.Errorf("sndbuf: acquire of invalid handle %v", h)
		return Nil, ErrInvalidHandle
	}
	s.ref++
	g.Exit()
	return h, nil
}

// Release drops a reference, the buffer returns to the free list when
// the last one is gone.
func (p *Pool) Release(h Handle) error {
	if h == Silence {
		return nil
	}
	g := p.cs.Enter()
	s := p.lookup(h)
	if s == nil {
		p.stats.Invalid++
		g.Exit()
		glog.Errorf("sndbuf: release of invalid handle %v", h)
		return ErrInvalidHandle
	}
	if s.ref--; s.ref == 0 {
		s.gen++
		s.next, p.free = p.free, h.index()
		p.avail++
		p.stats.Frees++
	}
	g.Exit()
	return nil
}

// Refs returns the reference count of h, 0 for freed or invalid handles.
func (p *Pool) Refs(h Handle) int {
	if h == Silence {
		return 1
	}
	defer p.cs.Enter().Exit()
	if s := p.lookup(h); s != nil {
		return int(s.ref)
	}
	return 0
}

// Samples returns the sample storage of a live buffer, nil if h is not
// live. The storage of Silence is shared and must not be written.
func (p *Pool) Samples(h Handle) []int16 {
	if h == Silence {
		return p.silence
	}
	defer p.cs.Enter().Exit()
	if s := p.lookup(h); s != nil {
		return s.data
	}
	return nil
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	defer p.cs.Enter().Exit()
	return p.avail
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	defer p.cs.Enter().Exit()
	st := p.stats
	st.Size, st.Available = len(p.slots), p.avail
	return st
}
