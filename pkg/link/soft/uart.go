package soft

import (
	"sync"
	"time"

	"github.com/robotalks/audiolink/pkg/kernel"
)

// UART emulates the line flags of a serial port, it implements link.UART.
type UART struct {
	baud     int
	charTime time.Duration
	irq      *kernel.Flag

	lock       sync.Mutex
	idle       bool
	txComplete bool
	gapUntil   time.Time
	pulses     int
}

// NewUART creates a UART at baud with an idle line.
func NewUART(baud int) *UART {
	return &UART{
		baud:       baud,
		charTime:   CharTime(baud),
		irq:        kernel.NewFlag(),
		txComplete: true,
	}
}

// CharTime returns the duration of one 10-bit character at baud.
func CharTime(baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return 10 * time.Second / time.Duration(baud)
}

// Baud implements link.UART.
func (u *UART) Baud() int {
	return u.baud
}

// CharTime returns the duration of one character.
func (u *UART) CharTime() time.Duration {
	return u.charTime
}

// Idle implements link.UART.
func (u *UART) Idle() bool {
	u.lock.Lock()
	defer u.lock.Unlock()
	return u.idle
}

// ClearIdle implements link.UART.
func (u *UART) ClearIdle() {
	u.lock.Lock()
	u.idle = false
	u.lock.Unlock()
}

// TxComplete implements link.UART.
func (u *UART) TxComplete() bool {
	u.lock.Lock()
	defer u.lock.Unlock()
	return u.txComplete
}

// ClearTxComplete implements link.UART.
func (u *UART) ClearTxComplete() {
	u.lock.Lock()
	u.txComplete = false
	u.lock.Unlock()
}

// PulseTE implements link.UART, the next transmission starts after one
// idle character.
func (u *UART) PulseTE() {
	u.lock.Lock()
	u.gapUntil = time.Now().Add(u.charTime)
	u.pulses++
	u.lock.Unlock()
}

// Pulses returns how many idle frames were requested.
func (u *UART) Pulses() int {
	u.lock.Lock()
	defer u.lock.Unlock()
	return u.pulses
}

// IRQ implements link.UART.
func (u *UART) IRQ() *kernel.Flag {
	return u.irq
}

// SetIdle raises the idle line flag.
func (u *UART) SetIdle() {
	u.lock.Lock()
	u.idle = true
	u.lock.Unlock()
	u.irq.Signal()
}

// SetTxComplete raises the transmit complete flag.
func (u *UART) SetTxComplete() {
	u.lock.Lock()
	u.txComplete = true
	u.lock.Unlock()
	u.irq.Signal()
}

// WaitGap sleeps until a requested idle frame has gone out.
func (u *UART) WaitGap() {
	u.lock.Lock()
	d := time.Until(u.gapUntil)
	u.lock.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}
