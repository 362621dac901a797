package audio

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/robotalks/audiolink/pkg/codec"
	"github.com/robotalks/audiolink/pkg/sndbuf"
)

// ToneMode selects where the test tone generator is inserted.
type ToneMode int

// Tone modes
const (
	// ToneOff disables the generator.
	ToneOff ToneMode = iota
	// ToneDAC plays the tone whenever the jitter buffer runs dry.
	ToneDAC
	// ToneADC replaces captured samples with the tone.
	ToneADC
)

var toneModeNames = [...]string{"off", "dac", "adc"}

func (m ToneMode) String() string {
	if m < ToneOff || m > ToneADC {
		return fmt.Sprintf("ToneMode(%d)", int(m))
	}
	return toneModeNames[m]
}

// ParseToneMode parses a tone mode by name.
func ParseToneMode(s string) (ToneMode, error) {
	for n, name := range toneModeNames {
		if strings.EqualFold(s, name) {
			return ToneMode(n), nil
		}
	}
	return ToneOff, fmt.Errorf("invalid tone mode %q, expect off, dac or adc", s)
}

// Tone defaults
const (
	DefaultToneFreq  = 1000
	DefaultToneLevel = 0.5
)

// ToneStatus reports the tone generator settings.
type ToneStatus struct {
	Mode  ToneMode
	Freq  int
	Level float64
}

// toneGen is shared by the capture and playback controllers and the
// control messages.
type toneGen struct {
	lock  sync.Mutex
	rate  int
	mode  ToneMode
	freq  int
	level float64
	tone  *codec.Tone
}

func (g *toneGen) init(rate int) {
	g.rate = rate
	g.freq, g.level = DefaultToneFreq, DefaultToneLevel
	g.tone = codec.NewTone(g.freq, g.rate, codec.Q15(g.level))
}

// Tone returns the tone generator settings.
func (t *Transport) Tone() ToneStatus {
	g := &t.tone
	g.lock.Lock()
	defer g.lock.Unlock()
	return ToneStatus{Mode: g.mode, Freq: g.freq, Level: g.level}
}

// SetToneMode selects the tone mode and returns the mode applied.
// Values out of range are clamped.
func (t *Transport) SetToneMode(mode ToneMode) ToneMode {
	if mode < ToneOff {
		mode = ToneOff
	} else if mode > ToneADC {
		mode = ToneADC
	}
	g := &t.tone
	g.lock.Lock()
	g.mode = mode
	g.lock.Unlock()
	return mode
}

// SetToneFreq changes the tone frequency, clamped to [0, rate/2], and
// returns the frequency applied.
func (t *Transport) SetToneFreq(freq int) int {
	g := &t.tone
	g.lock.Lock()
	defer g.lock.Unlock()
	if freq < 0 {
		freq = 0
	} else if freq > g.rate/2 {
		freq = g.rate / 2
	}
	g.freq = freq
	g.tone = codec.NewTone(g.freq, g.rate, codec.Q15(g.level))
	return freq
}

// SetToneLevel changes the tone amplitude, clamped to [0, 1], and returns
// the level applied. NaN leaves the level unchanged.
func (t *Transport) SetToneLevel(level float64) float64 {
	g := &t.tone
	g.lock.Lock()
	defer g.lock.Unlock()
	switch {
	case math.IsNaN(level):
		return g.level
	case level < 0:
		level = 0
	case level > 1:
		level = 1
	}
	g.level = level
	g.tone = codec.NewTone(g.freq, g.rate, codec.Q15(g.level))
	return level
}

// toneFill returns a buffer holding the next tone period if mode is
// active, Silence otherwise or when no buffer is free.
func (t *Transport) toneFill(mode ToneMode) sndbuf.Handle {
	g := &t.tone
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.mode != mode {
		return sndbuf.Silence
	}
	h, err := t.sounds.Alloc()
	if err != nil {
		return sndbuf.Silence
	}
	g.tone.Fill(t.sounds.Samples(h))
	return h
}

// toneCapture overwrites dst with the tone in ToneADC mode.
func (t *Transport) toneCapture(dst []int16) bool {
	g := &t.tone
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.mode != ToneADC {
		return false
	}
	g.tone.Fill(dst)
	return true
}
