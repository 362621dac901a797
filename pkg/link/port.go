package link

import (
	"strings"

	"github.com/robotalks/audiolink/pkg/kernel"
)

// Status holds the interrupt status bits of a DMA stream.
type Status uint8

// Stream status bits.
const (
	// StatusTC is transfer complete.
	StatusTC Status = 1 << iota
	// StatusHT is half transfer.
	StatusHT
	// StatusTE is transfer error.
	StatusTE
	// StatusFE is FIFO error.
	StatusFE

	statusErrors = StatusTE | StatusFE
)

// String implements fmt.Stringer.
func (s Status) String() string {
	var names []string
	for _, b := range []struct {
		bit  Status
		name string
	}{{StatusTC, "TC"}, {StatusHT, "HT"}, {StatusTE, "TE"}, {StatusFE, "FE"}} {
		if s&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	return "[" + strings.Join(names, "|") + "]"
}

// Stream is one direction of the DMA engine bound to the serial port.
type Stream interface {
	// Program sets the memory buffer and transfer count. The stream must
	// be disabled.
	Program(buf []byte, n int)
	// Enable starts the transfer.
	Enable()
	// Disable stops the transfer. Stopping an active transfer raises
	// StatusTC.
	Disable()
	// Enabled reports whether the stream is running.
	Enabled() bool
	// Remaining returns the count of bytes not yet transferred.
	Remaining() int
	// Status returns the pending status bits.
	Status() Status
	// Clear clears status bits.
	Clear(Status)
	// IRQ is raised whenever a status bit is set.
	IRQ() *kernel.Flag
}

// UART is the line side of the serial port.
type UART interface {
	// Baud returns the configured bit rate.
	Baud() int
	// Idle reports an idle line detected after received data.
	Idle() bool
	// ClearIdle clears the idle flag.
	ClearIdle()
	// TxComplete reports the transmitter shifted out its last bit.
	TxComplete() bool
	// ClearTxComplete clears the transmit complete flag.
	ClearTxComplete()
	// PulseTE toggles the transmitter enable, queuing an idle frame.
	PulseTE()
	// IRQ is raised on idle line and transmit complete.
	IRQ() *kernel.Flag
}

// Port bundles the peripheral resources driven by a Link.
type Port interface {
	UART() UART
	TX() Stream
	RX() Stream
}
