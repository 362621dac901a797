// Package serialport drives a host serial device, typically a USB RS-485
// adapter, as a link.Port. Goroutines stand in for the DMA engine and a
// software timer for the idle line detector.
package serialport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/jacobsa/go-serial/serial"

	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/link/soft"
)

// MinIdleTimeout bounds the idle detector from below, host drivers
// deliver bytes in bursts.
const MinIdleTimeout = 2 * time.Millisecond

// Options configures a Port.
type Options struct {
	Baud int
	// IdleTimeout is the silence after which a frame is considered
	// complete. Defaults to three characters, at least MinIdleTimeout.
	IdleTimeout time.Duration
}

// Port is a serial device as a link.Port.
type Port struct {
	rwc       io.ReadWriteCloser
	uart      *soft.UART
	tx        *soft.Stream
	rx        *soft.Stream
	idleAfter time.Duration
	idleTimer *time.Timer

	closeOnce sync.Once
	closed    chan struct{}
	dropped   uint64
}

// Open opens the serial device at path.
func Open(path string, opts Options) (*Port, error) {
	rwc, err := serial.Open(serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(opts.Baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	glog.Infof("serialport: %s opened at %d baud", path, opts.Baud)
	return New(rwc, opts), nil
}

// New wraps an open byte stream.
func New(rwc io.ReadWriteCloser, opts Options) *Port {
	p := &Port{
		rwc:    rwc,
		uart:   soft.NewUART(opts.Baud),
		closed: make(chan struct{}),
	}
	p.tx = soft.NewStream(p.startTransmit)
	p.rx = soft.NewStream(nil)
	p.idleAfter = opts.IdleTimeout
	if p.idleAfter <= 0 {
		p.idleAfter = 3 * p.uart.CharTime()
		if p.idleAfter < MinIdleTimeout {
			p.idleAfter = MinIdleTimeout
		}
	}
	p.idleTimer = time.AfterFunc(time.Hour, p.uart.SetIdle)
	p.idleTimer.Stop()
	go p.readLoop()
	return p
}

// UART implements link.Port.
func (p *Port) UART() link.UART {
	return p.uart
}

// TX implements link.Port.
func (p *Port) TX() link.Stream {
	return p.tx
}

// RX implements link.Port.
func (p *Port) RX() link.Stream {
	return p.rx
}

// IdleTimeout returns the idle detection delay.
func (p *Port) IdleTimeout() time.Duration {
	return p.idleAfter
}

// Dropped returns the number of bytes received with no buffer armed.
func (p *Port) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}

// Close implements io.Closer.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.idleTimer.Stop()
		err = p.rwc.Close()
	})
	return err
}

func (p *Port) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := p.rwc.Read(buf)
		if n > 0 {
			if k := p.rx.Write(buf[:n]); k < n {
				atomic.AddUint64(&p.dropped, uint64(n-k))
			}
			p.idleTimer.Reset(p.idleAfter)
		}
		if err != nil {
			select {
			case <-p.closed:
			default:
				glog.Errorf("serialport: read error: %v", err)
				p.rx.Raise(link.StatusTE)
			}
			return
		}
	}
}

func (p *Port) startTransmit(gen uint64, data []byte) {
	go p.transmit(gen, data)
}

func (p *Port) transmit(gen uint64, data []byte) {
	p.uart.WaitGap()
	start := time.Now()
	if _, err := p.rwc.Write(data); err != nil {
		glog.Errorf("serialport: write error: %v", err)
		p.tx.Raise(link.StatusTE)
	}
	if !p.tx.Finish(gen) {
		return
	}
	// the driver buffers, the last bit leaves after the wire time
	if d := time.Duration(len(data))*p.uart.CharTime() - time.Since(start); d > 0 {
		time.Sleep(d)
	}
	p.uart.SetTxComplete()
}
