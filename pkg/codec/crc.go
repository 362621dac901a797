package codec

import "github.com/sigurn/crc16"

// CRC-16/XMODEM: polynomial 0x1021, MSB first, zero init, no final xor.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16 updates crc with the bytes in p. Start with 0.
func CRC16(crc uint16, p []byte) uint16 {
	return crc16.Update(crc, p, crcTable)
}
