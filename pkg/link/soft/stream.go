// Package soft emulates the DMA streams and UART flags of a serial port in
// software, for ports whose bytes are moved by goroutines.
package soft

import (
	"sync"
	"sync/atomic"

	"github.com/robotalks/audiolink/pkg/kernel"
	"github.com/robotalks/audiolink/pkg/link"
)

// StartFunc is called when a stream is enabled with a snapshot of the
// programmed bytes.
type StartFunc func(gen uint64, data []byte)

// Stream emulates one DMA stream, it implements link.Stream.
type Stream struct {
	lock    sync.Mutex
	irq     *kernel.Flag
	buf     []byte
	count   int
	remain  int
	enabled bool
	status  link.Status
	gen     uint64
	start   StartFunc

	misprograms uint64
}

// NewStream creates a Stream. A transmit stream has a start func which
// moves the data, a receive stream is fed by Write.
func NewStream(start StartFunc) *Stream {
	return &Stream{irq: kernel.NewFlag(), start: start}
}

// Program implements link.Stream. Programming a running stream is
// ignored and counted, as the hardware ignores it.
func (s *Stream) Program(buf []byte, n int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.enabled {
		atomic.AddUint64(&s.misprograms, 1)
		return
	}
	if n > len(buf) {
		n = len(buf)
	}
	s.buf, s.count, s.remain = buf, n, n
}

// Enable implements link.Stream.
func (s *Stream) Enable() {
	s.lock.Lock()
	if s.enabled {
		s.lock.Unlock()
		return
	}
	s.enabled = true
	s.remain = s.count
	s.gen++
	gen := s.gen
	var data []byte
	if s.start != nil {
		data = append([]byte(nil), s.buf[:s.count]...)
	}
	s.lock.Unlock()
	if s.start != nil {
		s.start(gen, data)
	}
}

// Disable implements link.Stream.
func (s *Stream) Disable() {
	s.lock.Lock()
	wasEnabled := s.enabled
	if wasEnabled {
		s.enabled = false
		s.status |= link.StatusTC
	}
	s.lock.Unlock()
	if wasEnabled {
		s.irq.Signal()
	}
}

// Enabled implements link.Stream.
func (s *Stream) Enabled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.enabled
}

// Remaining implements link.Stream.
func (s *Stream) Remaining() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.remain
}

// Status implements link.Stream.
func (s *Stream) Status() link.Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.status
}

// Clear implements link.Stream.
func (s *Stream) Clear(st link.Status) {
	s.lock.Lock()
	s.status &^= st
	s.lock.Unlock()
}

// IRQ implements link.Stream.
func (s *Stream) IRQ() *kernel.Flag {
	return s.irq
}

// Raise sets status bits and fires the interrupt, used to inject faults.
func (s *Stream) Raise(st link.Status) {
	s.lock.Lock()
	s.status |= st
	s.lock.Unlock()
	s.irq.Signal()
}

// Misprograms returns how many times the stream was programmed while
// running.
func (s *Stream) Misprograms() uint64 {
	return atomic.LoadUint64(&s.misprograms)
}

// Finish completes the transfer gen, false if it was stopped meanwhile.
func (s *Stream) Finish(gen uint64) bool {
	s.lock.Lock()
	if !s.enabled || s.gen != gen {
		s.lock.Unlock()
		return false
	}
	s.remain = 0
	s.enabled = false
	s.status |= link.StatusTC
	s.lock.Unlock()
	s.irq.Signal()
	return true
}

// Write lands received bytes into the armed buffer and returns how many
// were accepted.
func (s *Stream) Write(data []byte) int {
	s.lock.Lock()
	if !s.enabled {
		s.lock.Unlock()
		return 0
	}
	pos := s.count - s.remain
	n := copy(s.buf[pos:s.count], data)
	s.remain -= n
	full := s.remain == 0
	if full {
		s.enabled = false
		s.status |= link.StatusTC
	}
	s.lock.Unlock()
	if full {
		s.irq.Signal()
	}
	return n
}
