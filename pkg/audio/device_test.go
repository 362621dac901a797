package audio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/codec"
	"github.com/robotalks/audiolink/pkg/link/simport"
)

func TestMeter(t *testing.T) {
	m := &Meter{}
	m.Play([]int16{100, -300, 200})
	m.Play([]int16{10, -10})
	peak, rms := m.Level()
	require.Equal(t, int16(10), peak)
	require.InDelta(t, 10.0, rms, 1e-9)
	require.Equal(t, int16(300), m.MaxPeak())
	require.Equal(t, uint64(2), m.Frames())
	m.Reset()
	require.Equal(t, int16(0), m.MaxPeak())
}

func TestToneSource(t *testing.T) {
	conf := testConfig()
	src := NewToneSource(conf, 1000, 0.5)
	buf := make([]int16, conf.DeviceRate/1000*4)
	src.Capture(buf)
	peak, _ := codec.Level(buf)
	require.Equal(t, int16(16384), peak)
}

func TestDeviceLoop(t *testing.T) {
	conf := testConfig()
	conf.HighPass = true
	conf.CaptureHighPass = true
	bus := simport.NewBus(testBaud)
	ta, err := conf.NewTransport(bus.Attach())
	require.NoError(t, err)
	tb, err := conf.NewTransport(bus.Attach())
	require.NoError(t, err)

	meter := &Meter{}
	speaker := NewDevice(tb, meter, nil).NewLoop()
	mic := NewDevice(ta, nil, NewToneSource(conf, 1000, 0.5)).NewLoop()
	require.Equal(t, 4*time.Millisecond, speaker.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 2)
	go func() { errCh <- speaker.Run(ctx) }()
	go func() { errCh <- mic.Run(ctx) }()

	waitFor(t, "tone played", func() bool { return meter.MaxPeak() > 4000 })
	speaker.PostMessage(SetGain{Gain: 2})
	speaker.PostMessage(SetStream{Enabled: false})
	waitFor(t, "controls applied", func() bool { return tb.Gain() == 2 && !tb.Streaming() })

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	require.Equal(t, context.Canceled, <-errCh)
	require.True(t, ta.Stats().TxFrames > 0)
	require.True(t, tb.Stats().RxFrames > 0)
	require.True(t, meter.Frames() > 0)
}

func TestToneModes(t *testing.T) {
	conf := testConfig()
	tr, err := conf.NewTransport(simport.NewBus(testBaud).Attach())
	require.NoError(t, err)
	require.Equal(t, ToneStatus{Mode: ToneOff, Freq: DefaultToneFreq, Level: DefaultToneLevel}, tr.Tone())

	t.Run("limits", func(t *testing.T) {
		require.Equal(t, ToneADC, tr.SetToneMode(7))
		require.Equal(t, ToneOff, tr.SetToneMode(-1))
		require.Equal(t, conf.DeviceRate/2, tr.SetToneFreq(100000))
		require.Equal(t, 0, tr.SetToneFreq(-5))
		require.Equal(t, DefaultToneFreq, tr.SetToneFreq(DefaultToneFreq))
		require.Equal(t, 1.0, tr.SetToneLevel(2))
		require.Equal(t, 1.0, tr.SetToneLevel(math.NaN()))
		require.Equal(t, DefaultToneLevel, tr.SetToneLevel(DefaultToneLevel))
	})

	t.Run("dac", func(t *testing.T) {
		peak, _ := codec.Level(tr.PlayFeed())
		require.Equal(t, int16(0), peak)
		tr.SetToneMode(ToneDAC)
		peak, _ = codec.Level(tr.PlayFeed())
		require.Equal(t, int16(16384), peak)
		require.Equal(t, uint64(2), tr.Stats().Underruns)
		tr.SetToneMode(ToneOff)
		tr.PlayFeed()
		tr.PlayFeed()
		require.Equal(t, conf.SoundBuffers, tr.Sounds().Available())
	})

	t.Run("adc", func(t *testing.T) {
		dev := NewDevice(tr, nil, nil)
		require.NoError(t, dev.capture(nil))
		require.Equal(t, 0, len(tr.captureQ))

		tr.SetToneMode(ToneADC)
		require.NoError(t, dev.capture(nil))
		require.Equal(t, 1, len(tr.captureQ))
		h := <-tr.captureQ
		peak, _ := codec.Level(tr.Sounds().Samples(h))
		require.Equal(t, int16(16384), peak)
		tr.Sounds().Release(h)
		tr.SetToneMode(ToneOff)
	})

	mode, err := ParseToneMode("DAC")
	require.NoError(t, err)
	require.Equal(t, ToneDAC, mode)
	require.Equal(t, "adc", ToneADC.String())
	_, err = ParseToneMode("both")
	require.Error(t, err)
}
