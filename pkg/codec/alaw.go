package codec

import "github.com/zaf/g711"

// ITU-T G.711 A-law over 16 bit linear samples.

const alawSignBit = 0x80

// ALawEncode compresses a linear sample into an A-law code.
// Negative samples are quantized on their ones' complement so that
// MinInt16 maps to the largest negative code.
func ALawEncode(pcm int16) byte {
	if pcm < 0 {
		return g711.EncodeAlawFrame(^pcm) ^ alawSignBit
	}
	return g711.EncodeAlawFrame(pcm)
}

// ALawDecode expands an A-law code into a linear sample.
func ALawDecode(code byte) int16 {
	return g711.DecodeAlawFrame(code)
}
