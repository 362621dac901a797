// Package jitbuf resynchronizes timestamped sound buffers arriving at
// irregular times into the steady cadence of the playback peripheral.
//
// Gaps in the timestamp sequence are filled with the shared silence
// buffer, but never beyond the configured target delay. Frames arriving
// out of order are appended as they come, only counted.
package jitbuf

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/kernel"
	"github.com/robotalks/audiolink/pkg/sndbuf"
)

// ErrOverflow indicates the ring is full and the frame was dropped.
var ErrOverflow = errors.New("jitter buffer overflow")

// Config defines the geometry and timing of a Buffer.
type Config struct {
	// Capacity is the ring size, must be a power of two.
	Capacity int
	// ClockRate is the timestamp clock in ticks per second.
	ClockRate int
	// SampleRate is the playback sample rate.
	SampleRate int
	// BufferLen is the number of samples in a sound buffer.
	BufferLen int
	// Delay is the target buffering latency.
	Delay time.Duration
}

// Stats is a snapshot of the counters.
type Stats struct {
	Level       int
	Enqueued    uint64
	Dequeued    uint64
	Overflows   uint64
	Anomalies   uint64
	Resyncs     uint64
	SilenceFill uint64
	AcquireErrs uint64
}

// Buffer is the jitter buffer.
type Buffer struct {
	pool   *sndbuf.Pool
	cs     kernel.Critical
	ring   []sndbuf.Handle
	mask   uint32
	head   uint32
	tail   uint32
	headTS uint32
	tbuf   int32
	delay  int32
	stats  Stats
}

// New creates a Buffer holding references in pool.
func New(pool *sndbuf.Pool, conf Config) (*Buffer, error) {
	if conf.Capacity < 2 || conf.Capacity&(conf.Capacity-1) != 0 {
		return nil, fmt.Errorf("jitbuf: capacity %d is not a power of two", conf.Capacity)
	}
	if conf.ClockRate <= 0 || conf.SampleRate <= 0 {
		return nil, fmt.Errorf("jitbuf: invalid rates %d/%d", conf.ClockRate, conf.SampleRate)
	}
	if conf.BufferLen <= 0 {
		conf.BufferLen = pool.Len()
	}
	tbuf := int64(conf.BufferLen) * int64(conf.ClockRate) / int64(conf.SampleRate)
	if tbuf <= 0 {
		return nil, fmt.Errorf("jitbuf: buffer shorter than a clock tick")
	}
	delay := int64(conf.Delay) * int64(conf.ClockRate) / int64(time.Second)
	glog.V(2).Infof("jitbuf: tbuf=%d delay=%d ticks, capacity=%d", tbuf, delay, conf.Capacity)
	return &Buffer{
		pool:  pool,
		ring:  make([]sndbuf.Handle, conf.Capacity),
		mask:  uint32(conf.Capacity - 1),
		tbuf:  int32(tbuf),
		delay: int32(delay),
	}, nil
}

// TBuf returns the duration of one buffer in clock ticks.
func (b *Buffer) TBuf() uint32 {
	return uint32(b.tbuf)
}

// Delay returns the target latency in clock ticks.
func (b *Buffer) Delay() uint32 {
	return uint32(b.delay)
}

// Capacity returns the ring size.
func (b *Buffer) Capacity() int {
	return len(b.ring)
}

// Enqueue inserts buf with timestamp ts. The buffer gains a reference
// which is handed to whoever dequeues it.
func (b *Buffer) Enqueue(buf sndbuf.Handle, ts uint32) error {
	if _, err := b.pool.Acquire(buf); err != nil {
		b.cs.Do(func() { b.stats.AcquireErrs++ })
		return err
	}

	g := b.cs.Enter()
	level := b.head - b.tail
	capacity := uint32(len(b.ring))
	if level >= capacity {
		b.stats.Overflows++
		g.Exit()
		b.pool.Release(buf)
		glog.V(2).Infof("jitbuf: overflow ts=%d", ts)
		return ErrOverflow
	}

	var dt int32
	if level == 0 {
		dt = b.delay
		b.stats.Resyncs++
	} else {
		dt = int32(ts - b.headTS)
		if dt > 0 {
			jitter := int32(level) * b.tbuf
			if jitter+dt > b.delay {
				dt = b.delay - jitter
			}
		} else if dt < 0 {
			dt = 0
			b.stats.Anomalies++
		}
	}

	var cnt uint32
	if dt > 0 {
		cnt = uint32(dt / b.tbuf)
	}
	if room := capacity - (level + 1); cnt > room {
		cnt = room
	}
	for i := uint32(0); i < cnt; i++ {
		b.ring[b.head&b.mask] = sndbuf.Silence
		b.head++
	}
	b.ring[b.head&b.mask] = buf
	b.head++
	b.headTS = ts + uint32(b.tbuf)
	b.stats.SilenceFill += uint64(cnt)
	b.stats.Enqueued++
	g.Exit()
	return nil
}

// Dequeue removes the oldest buffer. It never blocks, on an empty ring
// it returns false and leaves the state untouched.
func (b *Buffer) Dequeue() (sndbuf.Handle, bool) {
	defer b.cs.Enter().Exit()
	if b.head == b.tail {
		return sndbuf.Nil, false
	}
	buf := b.ring[b.tail&b.mask]
	b.ring[b.tail&b.mask] = sndbuf.Nil
	b.tail++
	b.stats.Dequeued++
	return buf, true
}

// Flush drops everything held in the ring.
func (b *Buffer) Flush() int {
	var n int
	for {
		buf, ok := b.Dequeue()
		if !ok {
			return n
		}
		b.pool.Release(buf)
		n++
	}
}

// Level returns the number of buffers in the ring.
func (b *Buffer) Level() int {
	defer b.cs.Enter().Exit()
	return int(b.head - b.tail)
}

// HeadTS returns the timestamp expected for the next frame.
func (b *Buffer) HeadTS() uint32 {
	defer b.cs.Enter().Exit()
	return b.headTS
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	defer b.cs.Enter().Exit()
	st := b.stats
	st.Level = int(b.head - b.tail)
	return st
}

// ResetStats clears the counters.
func (b *Buffer) ResetStats() {
	b.cs.Do(func() { b.stats = Stats{} })
}
