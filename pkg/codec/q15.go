package codec

import "math"

// Q15 converts a real number into Q15 fixed point, saturating to the
// int32 range. NaN converts to 0.
func Q15(f float64) int32 {
	v := math.Round(f * 32768)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// Float converts a Q15 value back to a real number.
func Float(q int32) float64 {
	return float64(q) / 32768
}

// MulQ15 multiplies a sample by a Q15 factor, rounding ties up.
func MulQ15(x, q int32) int32 {
	return int32((int64(x)*int64(q) + 1<<14) >> 15)
}

// Sat16 saturates x to the signed 16 bit range.
func Sat16(x int32) int16 {
	if x > math.MaxInt16 {
		return math.MaxInt16
	}
	if x < math.MinInt16 {
		return math.MinInt16
	}
	return int16(x)
}
