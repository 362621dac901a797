// Package codec builds and parses audio packets on the wire and
// conditions decoded samples for the playback peripheral.
//
// A packet is a little endian header followed by the payload:
//
//	| timestamp u32 | crc16 u16 | length u16 | payload ... |
//
// The CRC covers the whole packet with the crc16 field zeroed, the length
// is the payload size in bytes.
//
// All sample arithmetic is fixed point. Gains and offsets are Q15 values,
// products are rounded with ties going up and results are saturated to
// the signed 16 bit range.
package codec
