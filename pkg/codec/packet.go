package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// HeaderLen is the size of the packet header.
const HeaderLen = 8

var (
	// ErrCrcMismatch indicates the packet checksum does not match.
	ErrCrcMismatch = errors.New("crc mismatch")
	// ErrLengthMismatch indicates the declared payload length does not match
	// the frame, or the frame is shorter than a header.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrShortBuffer indicates the destination cannot hold the packet.
	ErrShortBuffer = errors.New("short buffer")
)

// Format is the payload sample encoding.
type Format int

// Payload formats.
const (
	FormatPCM16 Format = iota
	FormatALaw
)

// ParseFormat parses the name of a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "pcm16", "pcm", "raw":
		return FormatPCM16, nil
	case "alaw", "a-law", "g711":
		return FormatALaw, nil
	}
	return FormatPCM16, fmt.Errorf("unknown format %q", s)
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatALaw {
		return "alaw"
	}
	return "pcm16"
}

// BytesPerSample returns the payload size of one sample.
func (f Format) BytesPerSample() int {
	if f == FormatALaw {
		return 1
	}
	return 2
}

// MaxSamples returns how many samples fit in a frame of size bytes.
func (f Format) MaxSamples(size int) int {
	if size <= HeaderLen {
		return 0
	}
	return (size - HeaderLen) / f.BytesPerSample()
}

// Encode builds a packet carrying samples stamped with ts into dst and
// returns the packet size.
func (f Format) Encode(dst []byte, ts uint32, samples []int16) (int, error) {
	plen := len(samples) * f.BytesPerSample()
	if plen > math.MaxUint16 || HeaderLen+plen > len(dst) {
		return 0, ErrShortBuffer
	}
	payload := dst[HeaderLen : HeaderLen+plen]
	if f == FormatALaw {
		for n, s := range samples {
			payload[n] = ALawEncode(s)
		}
	} else {
		for n, s := range samples {
			binary.LittleEndian.PutUint16(payload[n*2:], uint16(s))
		}
	}
	binary.LittleEndian.PutUint32(dst[0:], ts)
	binary.LittleEndian.PutUint16(dst[4:], 0)
	binary.LittleEndian.PutUint16(dst[6:], uint16(plen))
	pkt := dst[:HeaderLen+plen]
	binary.LittleEndian.PutUint16(dst[4:], CRC16(0, pkt))
	return len(pkt), nil
}

// Samples expands payload into dst and returns the number of samples.
func (f Format) Samples(dst []int16, payload []byte) int {
	if f == FormatALaw {
		n := len(payload)
		if n > len(dst) {
			n = len(dst)
		}
		for i := 0; i < n; i++ {
			dst[i] = ALawDecode(payload[i])
		}
		return n
	}
	n := len(payload) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return n
}

// Packet is a validated packet. Payload aliases the frame it was
// decoded from.
type Packet struct {
	Timestamp uint32
	CRC       uint16
	Payload   []byte
}

// Decode validates a received frame.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < HeaderLen {
		return Packet{}, ErrLengthMismatch
	}
	pkt := Packet{
		Timestamp: binary.LittleEndian.Uint32(frame[0:]),
		CRC:       binary.LittleEndian.Uint16(frame[4:]),
		Payload:   frame[HeaderLen:],
	}
	crc := CRC16(0, frame[0:4])
	crc = CRC16(crc, []byte{0, 0})
	crc = CRC16(crc, frame[6:])
	if crc != pkt.CRC {
		return pkt, ErrCrcMismatch
	}
	if int(binary.LittleEndian.Uint16(frame[6:])) != len(pkt.Payload) {
		return pkt, ErrLengthMismatch
	}
	return pkt, nil
}
