package codec

// Coeffs are second order IIR coefficients scaled by 2^14, B0 is
// implicitly 2^14.
type Coeffs struct {
	A0, A1, A2 int32
	B1, B2     int32
}

// Butterworth high-pass sections removing DC and mains hum.
var (
	// HighPass240 cuts below 240 Hz, used on the playback path.
	HighPass240 = Coeffs{A0: 14585, A1: -29170, A2: 14585, B1: -29033, B2: 12923}
	// HighPass120 cuts below 120 Hz, used on the capture path.
	HighPass120 = Coeffs{A0: 15123, A1: -30246, A2: 15123, B1: -30164, B2: 13914}
)

// Filter is a second order fixed point IIR filter.
type Filter struct {
	c      Coeffs
	x1, x2 int32
	y1, y2 int32
}

// NewFilter creates a Filter with zero state.
func NewFilter(c Coeffs) *Filter {
	return &Filter{c: c}
}

// Step filters one sample. Neither input nor result is bounded to 16 bits.
func (f *Filter) Step(x int32) int32 {
	c := &f.c
	acc := int64(c.A0)*int64(x) +
		int64(c.A1)*int64(f.x1) + int64(c.A2)*int64(f.x2) -
		int64(c.B1)*int64(f.y1) - int64(c.B2)*int64(f.y2)
	y := int32((acc + 1<<13) >> 14)
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Apply filters in into out in place safe manner, saturating the output.
func (f *Filter) Apply(out, in []int16) {
	for n, x := range in {
		out[n] = Sat16(f.Step(int32(x)))
	}
}

// Reset clears the filter state.
func (f *Filter) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
