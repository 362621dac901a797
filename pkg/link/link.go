// Package link implements a half-duplex packet link over a multi-drop
// serial bus. Frames carry no length or sync bytes, they are delimited by
// idle line periods and moved by DMA.
//
// Each direction has a single pending buffer slot. Enqueue hands the next
// frame to the transmit DMA and returns the buffer of the transmission it
// waited for. Receive arms the receive DMA with a fresh buffer before it
// returns the frame collected by the previous one.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/kernel"
	"github.com/robotalks/audiolink/pkg/pktbuf"
)

var (
	// ErrTorn indicates a previous wait was aborted with the DMA engine in
	// an unknown state. Reset must be called before the link is reused.
	ErrTorn = errors.New("link torn, reset required")
	// ErrFrameSize indicates a frame length beyond the buffer capacity.
	ErrFrameSize = errors.New("invalid frame size")
)

// Options tunes a Link.
type Options struct {
	// Strict panics when a DMA stream is found running right before it is
	// reprogrammed instead of forcing it off.
	Strict bool
	// IdleTime overrides the inter-frame gap derived from the baud rate.
	IdleTime time.Duration
}

// IdleTime returns the gap needed to transmit three 10-bit characters at
// baud, rounded up to the microsecond.
func IdleTime(baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	d := (30*time.Second + time.Duration(baud) - 1) / time.Duration(baud)
	return (d + time.Microsecond - 1) / time.Microsecond * time.Microsecond
}

type slot struct {
	pending *pktbuf.Buffer
	maxLen  int
}

// Link is the packet link state machine.
type Link struct {
	uart   UART
	tx     Stream
	rx     Stream
	idle   time.Duration
	strict bool

	cs     kernel.Critical
	txSlot slot
	rxSlot slot
	torn   int32

	counters
}

// New creates a Link driving port. Both DMA streams are stopped and all
// pending flags cleared.
func New(port Port, opts Options) *Link {
	l := &Link{
		uart:   port.UART(),
		tx:     port.TX(),
		rx:     port.RX(),
		idle:   opts.IdleTime,
		strict: opts.Strict,
	}
	if l.idle <= 0 {
		l.idle = IdleTime(l.uart.Baud())
	}
	l.stop()
	glog.V(2).Infof("link: baud=%d idle=%v", l.uart.Baud(), l.idle)
	return l
}

// IdleTime returns the inter-frame gap in use.
func (l *Link) IdleTime() time.Duration {
	return l.idle
}

func (l *Link) stop() {
	l.tx.Disable()
	l.rx.Disable()
	all := StatusTC | StatusHT | statusErrors
	l.tx.Clear(all)
	l.rx.Clear(all)
	l.uart.ClearIdle()
}

// Enqueue starts the transmission of the first n bytes of buf. If a
// transmission is still running it waits for its completion first and
// returns its buffer, nil on the first call. On error the caller keeps
// buf, and any returned buffer belongs to the caller as well.
func (l *Link) Enqueue(ctx context.Context, buf *pktbuf.Buffer, n int) (*pktbuf.Buffer, error) {
	if buf == nil || n < 0 || n > buf.Cap() {
		return nil, ErrFrameSize
	}
	if atomic.LoadInt32(&l.torn) != 0 {
		return nil, ErrTorn
	}

	var prev *pktbuf.Buffer
	l.cs.Do(func() { prev = l.txSlot.pending })
	if prev != nil {
		if err := l.waitTransfer(ctx, l.tx, "tx"); err != nil {
			return nil, l.tear(err)
		}
		l.tx.Clear(StatusTC)
		l.cs.Do(func() { l.txSlot.pending = nil })
		if l.uart.TxComplete() {
			l.uart.PulseTE()
		} else if err := kernel.Sleep(ctx, l.idle); err != nil {
			return prev, err
		}
	}

	l.assertDisabled(l.tx, "tx")
	l.cs.Do(func() {
		l.txSlot.pending, l.txSlot.maxLen = buf, buf.Cap()
		l.tx.Program(buf.Bytes(), n)
		l.uart.ClearTxComplete()
		l.tx.Enable()
	})
	atomic.AddUint64(&l.txFrames, 1)
	atomic.AddUint64(&l.txOctets, uint64(n))
	if glog.V(3) {
		glog.Infof("link: TX %v %d bytes", buf, n)
	}
	return prev, nil
}

// Receive arms the receive DMA with buf. If a buffer was armed before it
// waits for the end of the frame landing in it and returns it with the
// frame length, the first call returns nil and 0. The new buffer is
// armed before Receive returns.
func (l *Link) Receive(ctx context.Context, buf *pktbuf.Buffer) (*pktbuf.Buffer, int, error) {
	if buf == nil || buf.Cap() == 0 {
		return nil, 0, ErrFrameSize
	}
	if atomic.LoadInt32(&l.torn) != 0 {
		return nil, 0, ErrTorn
	}

	var prev *pktbuf.Buffer
	var n int
	l.cs.Do(func() { prev = l.rxSlot.pending })
	if prev != nil {
		for !l.uart.Idle() {
			if err := l.uart.IRQ().Wait(ctx); err != nil {
				return nil, 0, l.tear(err)
			}
		}
		l.uart.ClearIdle()
		if l.rx.Enabled() {
			l.rx.Disable()
		}
		if err := l.waitTransfer(ctx, l.rx, "rx"); err != nil {
			return nil, 0, l.tear(err)
		}
		l.cs.Do(func() {
			n = l.rxSlot.maxLen - l.rx.Remaining()
			l.rxSlot.pending = nil
		})
		l.rx.Clear(StatusTC)
	}

	l.assertDisabled(l.rx, "rx")
	l.cs.Do(func() {
		l.rxSlot.pending, l.rxSlot.maxLen = buf, buf.Cap()
		l.rx.Program(buf.Bytes(), buf.Cap())
		l.rx.Enable()
	})
	if prev != nil {
		atomic.AddUint64(&l.rxFrames, 1)
		atomic.AddUint64(&l.rxOctets, uint64(n))
		if glog.V(3) {
			glog.Infof("link: RX %v %d bytes", prev, n)
		}
	}
	return prev, n, nil
}

// waitTransfer waits for transfer complete, clearing and counting error
// flags seen on the way.
func (l *Link) waitTransfer(ctx context.Context, s Stream, dir string) error {
	for {
		st := s.Status()
		if errs := st & (statusErrors | StatusHT); errs != 0 {
			s.Clear(errs)
			if errs&StatusTE != 0 {
				atomic.AddUint64(&l.dmaErrors, 1)
			}
			if errs&StatusFE != 0 {
				atomic.AddUint64(&l.fifoErrors, 1)
			}
			if errs&statusErrors != 0 {
				glog.Warningf("link: %s DMA error %v", dir, errs)
			}
		}
		if st&StatusTC != 0 {
			return nil
		}
		if err := s.IRQ().Wait(ctx); err != nil {
			return err
		}
	}
}

// assertDisabled guards the reprogramming of a stream.
func (l *Link) assertDisabled(s Stream, dir string) {
	if !s.Enabled() {
		return
	}
	atomic.AddUint64(&l.violations, 1)
	msg := fmt.Sprintf("link: %s DMA still enabled before reprogramming", dir)
	if l.strict {
		panic(msg)
	}
	glog.Error(msg)
	s.Disable()
	s.Clear(StatusTC | StatusHT | statusErrors)
}

func (l *Link) tear(err error) error {
	atomic.StoreInt32(&l.torn, 1)
	glog.Warningf("link: wait aborted (%v), reset required", err)
	return err
}

// Torn reports whether Reset is required.
func (l *Link) Torn() bool {
	return atomic.LoadInt32(&l.torn) != 0
}

// Reset stops both DMA streams and returns the buffers they held. It must
// not run concurrently with Enqueue or Receive.
func (l *Link) Reset() (tx, rx *pktbuf.Buffer) {
	defer l.cs.Enter().Exit()
	l.stop()
	l.uart.ClearTxComplete()
	tx, rx = l.txSlot.pending, l.rxSlot.pending
	l.txSlot, l.rxSlot = slot{}, slot{}
	atomic.StoreInt32(&l.torn, 0)
	return
}

// Stats returns the counters, optionally clearing them.
func (l *Link) Stats(reset bool) Stats {
	return l.snapshot(reset)
}
