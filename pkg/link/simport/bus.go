// Package simport simulates a multi-drop RS-485 bus and the UART/DMA
// peripherals of the nodes attached to it.
//
// Frames take the time the baud rate dictates, receivers see the idle
// line one character after the last byte, and two nodes driving the bus
// at the same time corrupt each other's frames.
package simport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/link/soft"
)

// Bus is the shared line.
type Bus struct {
	baud     int
	charTime time.Duration

	lock    sync.Mutex
	ports   []*Port
	active  map[*transfer]struct{}
	corrupt func([]byte)

	collisions uint64
}

type transfer struct {
	from     *Port
	data     []byte
	collided bool
}

// NewBus creates a bus running at baud.
func NewBus(baud int) *Bus {
	if baud <= 0 {
		baud = 115200
	}
	return &Bus{
		baud:     baud,
		charTime: soft.CharTime(baud),
		active:   make(map[*transfer]struct{}),
	}
}

// CharTime returns the duration of one 10-bit character.
func (b *Bus) CharTime() time.Duration {
	return b.charTime
}

// Collisions returns the number of frames corrupted by contention.
func (b *Bus) Collisions() uint64 {
	return atomic.LoadUint64(&b.collisions)
}

// SetCorrupt installs a hook applied to every frame put on the line.
func (b *Bus) SetCorrupt(fn func([]byte)) {
	b.lock.Lock()
	b.corrupt = fn
	b.lock.Unlock()
}

// Attach adds a node to the bus.
func (b *Bus) Attach() *Port {
	p := &Port{bus: b, uart: soft.NewUART(b.baud)}
	p.tx = soft.NewStream(p.startTransmit)
	p.rx = soft.NewStream(nil)
	b.lock.Lock()
	b.ports = append(b.ports, p)
	b.lock.Unlock()
	return p
}

func (b *Bus) begin(t *transfer) {
	b.lock.Lock()
	if len(b.active) > 0 {
		for other := range b.active {
			other.collided = true
		}
		t.collided = true
	}
	b.active[t] = struct{}{}
	b.lock.Unlock()
}

func (b *Bus) end(t *transfer) {
	b.lock.Lock()
	delete(b.active, t)
	collided, corrupt := t.collided, b.corrupt
	ports := make([]*Port, 0, len(b.ports))
	for _, p := range b.ports {
		if p != t.from {
			ports = append(ports, p)
		}
	}
	b.lock.Unlock()

	if collided {
		atomic.AddUint64(&b.collisions, 1)
		glog.V(2).Infof("simport: collision, %d bytes garbled", len(t.data))
		for n := range t.data {
			t.data[n] ^= 0xa5
		}
	}
	if corrupt != nil {
		corrupt(t.data)
	}
	for _, p := range ports {
		p.deliver(t.data)
	}
}

// Port is a node on the bus, it implements link.Port.
type Port struct {
	bus  *Bus
	uart *soft.UART
	tx   *soft.Stream
	rx   *soft.Stream

	dropped uint64
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

// TXStream exposes the simulated transmit stream.
func (p *Port) TXStream() *soft.Stream {
	return p.tx
}

// RXStream exposes the simulated receive stream.
func (p *Port) RXStream() *soft.Stream {
	return p.rx
}

// UARTSim exposes the simulated UART.
func (p *Port) UARTSim() *soft.UART {
	return p.uart
}

// Dropped returns the number of bytes that arrived with no buffer armed.
func (p *Port) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}

// Inject puts bytes on the line as seen by this node only, line noise or
// a frame from outside the simulation.
func (p *Port) Inject(data []byte) {
	p.deliver(append([]byte(nil), data...))
}

func (p *Port) startTransmit(gen uint64, data []byte) {
	go p.transmit(gen, data)
}

func (p *Port) transmit(gen uint64, data []byte) {
	charTime := p.bus.charTime
	p.uart.WaitGap()
	t := &transfer{from: p, data: data}
	p.bus.begin(t)
	time.Sleep(time.Duration(len(data)) * charTime)
	if !p.tx.Finish(gen) {
		p.bus.lock.Lock()
		delete(p.bus.active, t)
		p.bus.lock.Unlock()
		return
	}
	p.bus.end(t)
	time.Sleep(charTime)
	p.uart.SetTxComplete()
}

func (p *Port) deliver(data []byte) {
	if n := p.rx.Write(data); n < len(data) {
		atomic.AddUint64(&p.dropped, uint64(len(data)-n))
	}
	time.AfterFunc(p.bus.charTime, p.uart.SetIdle)
}
