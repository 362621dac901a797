package codec

import (
	"math"
	"sync/atomic"
)

// Gain and offset limits.
var (
	MinGain   = Q15(-8)
	MaxGain   = Q15(8)
	MinOffset = Q15(-1)
	MaxOffset = Q15(1) - 1
)

// DefaultGain is the playback gain applied when none is configured.
var DefaultGain = Q15(0.125)

// ConditionerConfig configures the playback conditioning pipeline.
type ConditionerConfig struct {
	Gain     int32
	Offset   int32
	HighPass bool
	// Factor is the integer oversampling factor from wire to device rate.
	Factor int
}

// Conditioner turns decoded wire samples into device samples: gain,
// high-pass filter, DC offset, saturation then oversampling by Newton's
// quadratic interpolation.
//
// Process must be called from a single goroutine, SetGain and SetOffset
// from any.
type Conditioner struct {
	gain   int32
	offset int32
	filter *Filter
	factor int
	// weights[j] interpolate the point j/factor past y1.
	weights [][3]int32
	div     int32
	y0, y1  int32
}

// NewConditioner creates a Conditioner.
func NewConditioner(conf ConditionerConfig) *Conditioner {
	c := &Conditioner{factor: conf.Factor}
	if c.factor < 1 {
		c.factor = 1
	}
	if conf.HighPass {
		c.filter = NewFilter(HighPass240)
	}
	c.SetGain(conf.Gain)
	c.SetOffset(conf.Offset)
	k := int32(c.factor)
	c.div = 2 * k * k
	c.weights = make([][3]int32, c.factor)
	for j := int32(0); j < k; j++ {
		c.weights[j] = [3]int32{j * (j - k), 2 * (k*k - j*j), j * (j + k)}
	}
	return c
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetGain sets the Q15 gain, clamped to [MinGain, MaxGain].
func (c *Conditioner) SetGain(q int32) int32 {
	q = clamp(q, MinGain, MaxGain)
	atomic.StoreInt32(&c.gain, q)
	return q
}

// Gain returns the Q15 gain.
func (c *Conditioner) Gain() int32 {
	return atomic.LoadInt32(&c.gain)
}

// SetOffset sets the Q15 DC offset, clamped to [MinOffset, MaxOffset].
func (c *Conditioner) SetOffset(q int32) int32 {
	q = clamp(q, MinOffset, MaxOffset)
	atomic.StoreInt32(&c.offset, q)
	return q
}

// Offset returns the Q15 DC offset.
func (c *Conditioner) Offset() int32 {
	return atomic.LoadInt32(&c.offset)
}

// Factor returns the oversampling factor.
func (c *Conditioner) Factor() int {
	return c.factor
}

// Process conditions src into dst. It consumes at most len(dst)/Factor
// input samples and returns the number consumed.
func (c *Conditioner) Process(dst, src []int16) int {
	n := len(dst) / c.factor
	if n > len(src) {
		n = len(src)
	}
	gain, offs := c.Gain(), c.Offset()
	for i := 0; i < n; i++ {
		y := MulQ15(int32(src[i]), gain)
		if c.filter != nil {
			y = c.filter.Step(y)
		}
		y = int32(Sat16(y + offs))
		if c.factor == 1 {
			dst[i] = int16(y)
			continue
		}
		out := dst[i*c.factor : (i+1)*c.factor]
		for j, w := range c.weights {
			v := (w[0]*c.y0 + w[1]*c.y1 + w[2]*y) / c.div
			out[j] = Sat16(v)
		}
		c.y0, c.y1 = c.y1, y
	}
	return n
}

// Reset clears filter and interpolation state.
func (c *Conditioner) Reset() {
	if c.filter != nil {
		c.filter.Reset()
	}
	c.y0, c.y1 = 0, 0
}

// Decimate averages groups of factor samples of src into dst, returns the
// number of samples written.
func Decimate(dst, src []int16, factor int) int {
	if factor <= 1 {
		return copy(dst, src)
	}
	n := len(src) / factor
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		var sum int32
		for _, s := range src[i*factor : (i+1)*factor] {
			sum += int32(s)
		}
		dst[i] = int16(sum / int32(factor))
	}
	return n
}

// Level measures peak and RMS amplitude of samples.
func Level(samples []int16) (peak int16, rms float64) {
	var sum float64
	for _, s := range samples {
		a := s
		if a < 0 {
			if a == math.MinInt16 {
				a = math.MaxInt16
			} else {
				a = -a
			}
		}
		if a > peak {
			peak = a
		}
		sum += float64(s) * float64(s)
	}
	if len(samples) > 0 {
		rms = math.Sqrt(sum / float64(len(samples)))
	}
	return
}
