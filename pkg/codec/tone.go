package codec

import "math"

const toneTableBits = 10

var sineTable = func() (t [1 << toneTableBits]int16) {
	for n := range t {
		t[n] = Sat16(int32(math.Round(math.Sin(2*math.Pi*float64(n)/float64(len(t))) * 32767)))
	}
	return
}()

// Tone generates a sine wave with a phase accumulator.
type Tone struct {
	phase uint32
	step  uint32
	amp   int32
}

// NewTone creates a tone of freq Hz at rate samples per second with Q15
// amplitude amp.
func NewTone(freq, rate int, amp int32) *Tone {
	t := &Tone{amp: clamp(amp, 0, Q15(1))}
	if rate > 0 {
		t.step = uint32(uint64(freq) << 32 / uint64(rate))
	}
	return t
}

// Fill writes the next len(dst) samples.
func (t *Tone) Fill(dst []int16) {
	for n := range dst {
		s := sineTable[t.phase>>(32-toneTableBits)]
		dst[n] = Sat16(MulQ15(int32(s), t.amp))
		t.phase += t.step
	}
}
