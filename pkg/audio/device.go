package audio

import (
	"sync"

	"github.com/robotalks/audiolink/pkg/codec"
	fx "github.com/robotalks/audiolink/pkg/framework"
)

// Sink consumes playback samples.
type Sink interface {
	Play(samples []int16)
}

// Source produces capture samples.
type Source interface {
	Capture(dst []int16)
}

// Device stands in for the audio peripheral: every cycle it captures one
// buffer from Source, or the test tone in ToneADC mode, applies pending
// control messages and plays one buffer into Sink.
type Device struct {
	Transport *Transport
	Sink      Sink
	Source    Source
}

// NewDevice creates a Device. sink and source may be nil.
func NewDevice(t *Transport, sink Sink, source Source) *Device {
	return &Device{Transport: t, Sink: sink, Source: source}
}

// NewLoop creates a loop cycling at the buffer period with the device
// added.
func (d *Device) NewLoop() *fx.Loop {
	return fx.NewLoop(d.Transport.conf.FrameDuration()).Add(d)
}

// AddToLoop implements fx.LoopAdder.
func (d *Device) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvCapture, fx.ControlFunc(d.capture))
	l.AddController(fx.PrLvControl, fx.ControlFunc(d.control))
	l.AddController(fx.PrLvPlayback, fx.ControlFunc(d.playback))
	l.AddRunnable(fx.NamedRun("transport", d.Transport))
}

func (d *Device) capture(fx.ControlContext) error {
	if d.Source == nil && d.Transport.Tone().Mode != ToneADC {
		return nil
	}
	h, err := d.Transport.sounds.Alloc()
	if err != nil {
		// counted by the pool
		return nil
	}
	samples := d.Transport.sounds.Samples(h)
	switch {
	case d.Transport.toneCapture(samples):
	case d.Source != nil:
		d.Source.Capture(samples)
	default:
		d.Transport.sounds.Release(h)
		return nil
	}
	d.Transport.CaptureDrain(h)
	return nil
}

func (d *Device) control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(func(msg fx.Message) bool {
		return d.Transport.Apply(msg)
	})
	return nil
}

func (d *Device) playback(fx.ControlContext) error {
	samples := d.Transport.PlayFeed()
	if d.Sink != nil {
		d.Sink.Play(samples)
	}
	return nil
}

// Meter is a Sink measuring the played signal.
type Meter struct {
	lock    sync.Mutex
	peak    int16
	rms     float64
	maxPeak int16
	frames  uint64
}

// Play implements Sink.
func (m *Meter) Play(samples []int16) {
	peak, rms := codec.Level(samples)
	m.lock.Lock()
	m.peak, m.rms = peak, rms
	if peak > m.maxPeak {
		m.maxPeak = peak
	}
	m.frames++
	m.lock.Unlock()
}

// Level returns the peak and RMS of the last buffer played.
func (m *Meter) Level() (peak int16, rms float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.peak, m.rms
}

// MaxPeak returns the highest peak since the last Reset.
func (m *Meter) MaxPeak() int16 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.maxPeak
}

// Frames returns the number of buffers played.
func (m *Meter) Frames() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.frames
}

// Reset clears the measurements.
func (m *Meter) Reset() {
	m.lock.Lock()
	m.peak, m.rms, m.maxPeak, m.frames = 0, 0, 0, 0
	m.lock.Unlock()
}

// ToneSource is a Source generating a sine tone.
type ToneSource struct {
	tone *codec.Tone
}

// NewToneSource creates a tone of freq Hz with amplitude amp in [0, 1]
// at the device rate of conf.
func NewToneSource(conf *Config, freq int, amp float64) *ToneSource {
	return &ToneSource{tone: codec.NewTone(freq, conf.DeviceRate, codec.Q15(amp))}
}

// Capture implements Source.
func (s *ToneSource) Capture(dst []int16) {
	s.tone.Fill(dst)
}
