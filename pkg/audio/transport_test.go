package audio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/codec"
	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/link/simport"
	"github.com/robotalks/audiolink/pkg/pktbuf"
	"github.com/robotalks/audiolink/pkg/sndbuf"
)

const testBaud = 500000

func testConfig() *Config {
	conf := NewConfig()
	conf.BufferLen = 32
	conf.WireRate = 8000
	conf.DeviceRate = 8000
	// three buffers of 4ms
	conf.Delay = 12 * time.Millisecond
	conf.JitterCapacity = 16
	conf.Gain = 1
	conf.HighPass = false
	conf.CaptureHighPass = false
	conf.AllocBackoff = time.Millisecond
	conf.StrictLink = true
	return conf
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// rig runs a Transport on one node of a simulated bus and drives another
// node with a raw link.
type rig struct {
	t      *testing.T
	bus    *simport.Bus
	tr     *Transport
	sender *link.Link
	pool   *pktbuf.Pool
	ctx    context.Context
	cancel context.CancelFunc
	errCh  chan error
}

func newRig(t *testing.T, conf *Config) *rig {
	bus := simport.NewBus(testBaud)
	pa, pb := bus.Attach(), bus.Attach()
	tr, err := conf.NewTransport(pb)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	r := &rig{
		t:      t,
		bus:    bus,
		tr:     tr,
		sender: link.New(pa, link.Options{Strict: true}),
		pool:   pktbuf.NewPool(4, 128),
		ctx:    ctx,
		cancel: cancel,
		errCh:  make(chan error, 1),
	}
	go func() { r.errCh <- tr.Run(ctx) }()
	waitFor(t, "receiver armed", pb.RXStream().Enabled)
	t.Cleanup(r.stop)
	return r
}

func (r *rig) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	require.Equal(r.t, context.Canceled, <-r.errCh)
}

func (r *rig) sendRaw(frame []byte) {
	b, err := r.pool.Alloc()
	require.NoError(r.t, err)
	n := copy(b.Bytes(), frame)
	prev, err := r.sender.Enqueue(r.ctx, b, n)
	require.NoError(r.t, err)
	r.pool.Free(prev)
}

func (r *rig) encode(ts uint32, samples []int16) []byte {
	frame := make([]byte, 128)
	n, err := codec.FormatPCM16.Encode(frame, ts, samples)
	require.NoError(r.t, err)
	return frame[:n]
}

func constFrame(n int, v int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

// sendFrame sends a frame of constant value v and waits for the receiver
// to accept it.
func (r *rig) sendFrame(ts uint32, v int16) {
	want := r.tr.Stats().RxFrames + 1
	r.sendRaw(r.encode(ts, constFrame(r.tr.conf.WireSamples(), v)))
	waitFor(r.t, "frame received", func() bool { return r.tr.Stats().Jitter.Enqueued+r.tr.Stats().RxDiscarded >= want })
}

func (r *rig) play() int16 {
	samples := r.tr.PlayFeed()
	require.Len(r.t, samples, r.tr.conf.BufferLen)
	return samples[0]
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Config)
	}{
		{"pools", func(c *Config) { c.PacketBuffers = 1 }},
		{"rate multiple", func(c *Config) { c.DeviceRate = 12000 }},
		{"rate lower", func(c *Config) { c.DeviceRate = 4000 }},
		{"buffer len", func(c *Config) { c.BufferLen = 33; c.DeviceRate = 16000 }},
		{"format", func(c *Config) { c.Format = "mp3" }},
		{"delay", func(c *Config) { c.Delay = -time.Millisecond }},
	}
	require.NoError(t, testConfig().Validate())
	require.NoError(t, NewConfig().Validate())
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := testConfig()
			test.apply(conf)
			require.Error(t, conf.Validate())
		})
	}
}

func TestConfigGeometry(t *testing.T) {
	conf := NewConfig()
	require.Equal(t, 2, conf.Factor())
	require.Equal(t, 32, conf.WireSamples())
	require.Equal(t, 4*time.Millisecond, conf.FrameDuration())
	require.Equal(t, codec.HeaderLen+64+8, conf.PacketSize())
}

func TestEndToEndTenFrames(t *testing.T) {
	r := newRig(t, testConfig())
	tbuf := r.tr.Jitter().TBuf()
	require.Equal(t, 3*tbuf, r.tr.Jitter().Delay())
	for i := 0; i < 10; i++ {
		r.sendFrame(uint32(i)*tbuf, int16(i+1)*100)
	}
	require.Equal(t, 13, r.tr.Jitter().Level())

	var played []int16
	for i := 0; i < 15; i++ {
		played = append(played, r.play())
	}
	require.Equal(t, []int16{0, 0, 0, 100, 200, 300, 400, 500, 600, 700, 800, 900, 1000, 0, 0}, played)

	st := r.tr.Stats()
	require.Equal(t, uint64(10), st.RxFrames)
	require.Equal(t, uint64(15), st.Played)
	require.Equal(t, uint64(2), st.Underruns)
	require.Equal(t, uint64(0), st.CrcErrors)
	require.Equal(t, uint64(10), st.Link.RxFrames)
	require.Equal(t, r.tr.conf.SoundBuffers, r.tr.Sounds().Available())
}

func TestEndToEndDroppedFrame(t *testing.T) {
	r := newRig(t, testConfig())
	tbuf := r.tr.Jitter().TBuf()
	var played []int16
	for i := 0; i < 10; i++ {
		if i != 5 {
			r.sendFrame(uint32(i)*tbuf, int16(i+1))
		}
		played = append(played, r.play())
	}
	for r.tr.Jitter().Level() > 0 {
		played = append(played, r.play())
	}
	require.Equal(t, []int16{0, 0, 0, 1, 2, 3, 4, 5, 0, 7, 8, 9, 10}, played)
	require.Equal(t, uint64(4), r.tr.Stats().Jitter.SilenceFill)
	require.Equal(t, uint64(0), r.tr.Stats().Underruns)
}

func TestCorruptedFramesRejected(t *testing.T) {
	r := newRig(t, testConfig())
	samples := constFrame(r.tr.conf.WireSamples(), 42)

	frame := r.encode(0, samples)
	frame[20] ^= 0x10
	r.sendRaw(frame)
	waitFor(t, "crc error", func() bool { return r.tr.Stats().CrcErrors == 1 })

	frame = r.encode(0, samples[:10])
	r.sendRaw(frame)
	waitFor(t, "length error", func() bool { return r.tr.Stats().LengthErrors == 1 })

	r.sendRaw([]byte{1, 2, 3})
	waitFor(t, "short frame", func() bool { return r.tr.Stats().LengthErrors == 2 })

	r.sendFrame(0, 42)
	st := r.tr.Stats()
	require.Equal(t, uint64(1), st.RxFrames)
	require.Equal(t, uint64(1), st.Jitter.Enqueued)
	require.Equal(t, uint64(4), st.Link.RxFrames)
	require.Equal(t, r.pool.Stats().Size, r.pool.Available()+1)
}

func TestGainSaturation(t *testing.T) {
	conf := testConfig()
	conf.Delay = 0
	r := newRig(t, conf)
	require.Equal(t, 8.0, r.tr.SetGain(100))
	require.Equal(t, 8.0, r.tr.SetGain(1e6))
	require.Equal(t, 8.0, r.tr.SetGain(math.NaN()))
	require.Equal(t, -8.0, r.tr.SetGain(math.Inf(-1)))
	require.Equal(t, 8.0, r.tr.SetGain(math.Inf(1)))
	r.sendFrame(0, 32767)
	require.Equal(t, int16(32767), r.play())
	r.sendFrame(r.tr.Jitter().TBuf(), -32768)
	require.Equal(t, int16(-32768), r.play())
	require.Equal(t, -1.0, r.tr.SetOffset(-3))
	require.Equal(t, -1.0, r.tr.SetOffset(math.NaN()))
}

func TestStreamDisabled(t *testing.T) {
	r := newRig(t, testConfig())
	r.sendFrame(0, 5)
	require.Equal(t, 4, r.tr.Jitter().Level())

	r.tr.SetStreaming(false)
	require.False(t, r.tr.Streaming())
	require.Equal(t, 0, r.tr.Jitter().Level())
	r.sendFrame(r.tr.Jitter().TBuf(), 6)
	require.Equal(t, 0, r.tr.Jitter().Level())
	require.Equal(t, int16(0), r.play())

	st := r.tr.Stats()
	require.Equal(t, uint64(1), st.RxDiscarded)
	require.Equal(t, uint64(0), st.Underruns)
	require.Equal(t, r.tr.conf.SoundBuffers, r.tr.Sounds().Available())

	r.tr.SetStreaming(true)
	r.sendFrame(2*r.tr.Jitter().TBuf(), 7)
	require.Equal(t, 4, r.tr.Jitter().Level())
}

func TestAllocRetry(t *testing.T) {
	conf := testConfig()
	conf.SoundBuffers = 2
	r := newRig(t, conf)
	tbuf := r.tr.Jitter().TBuf()
	r.sendFrame(0, 1)
	r.sendFrame(tbuf, 2)
	r.sendRaw(r.encode(2*tbuf, constFrame(conf.WireSamples(), 3)))
	waitFor(t, "alloc retry", func() bool { return r.tr.Stats().AllocRetries > 0 })
	require.True(t, r.tr.Stats().Sounds.Exhausted > 0)

	var played []int16
	for i := 0; i < 6; i++ {
		played = append(played, r.play())
	}
	require.Equal(t, []int16{0, 0, 0, 1, 2, 0}, played)
	waitFor(t, "third frame", func() bool { return r.tr.Stats().Jitter.Enqueued == 3 })
}

func TestCaptureDrainDrops(t *testing.T) {
	conf := testConfig()
	conf.CaptureQueue = 1
	tr, err := conf.NewTransport(simport.NewBus(testBaud).Attach())
	require.NoError(t, err)
	h1, err := tr.Sounds().Alloc()
	require.NoError(t, err)
	h2, err := tr.Sounds().Alloc()
	require.NoError(t, err)
	require.True(t, tr.CaptureDrain(h1))
	require.False(t, tr.CaptureDrain(h2))
	require.Equal(t, uint64(1), tr.Stats().CaptureDrops)
	require.Equal(t, 0, tr.Sounds().Refs(h2))
	require.Equal(t, 1, tr.Sounds().Refs(h1))
}

func TestTransmitDropsWithoutPacketBuffer(t *testing.T) {
	conf := testConfig()
	r := newRig(t, conf)
	var held []*pktbuf.Buffer
	for {
		b, err := r.tr.packets.Alloc()
		if err != nil {
			break
		}
		held = append(held, b)
	}

	for i := 0; i < 3; i++ {
		h, err := r.tr.Sounds().Alloc()
		require.NoError(t, err)
		require.True(t, r.tr.CaptureDrain(h))
		want := uint64(i + 1)
		waitFor(t, "frame dropped", func() bool { return r.tr.Stats().TxDrops == want })
	}
	st := r.tr.Stats()
	require.Equal(t, uint64(0), st.TxFrames)
	require.Equal(t, uint64(0), st.AllocRetries)
	require.Equal(t, uint64(0), st.CaptureDrops)
	require.Equal(t, 0, len(r.tr.captureQ))
	waitFor(t, "sound buffers released", func() bool { return r.tr.Sounds().Available() == conf.SoundBuffers })

	for _, b := range held {
		require.NoError(t, r.tr.packets.Free(b))
	}
	h, err := r.tr.Sounds().Alloc()
	require.NoError(t, err)
	require.True(t, r.tr.CaptureDrain(h))
	waitFor(t, "frame sent", func() bool { return r.tr.Stats().TxFrames == 1 })
	require.Equal(t, uint64(3), r.tr.Stats().TxDrops)
}

func TestTransmitToPeer(t *testing.T) {
	conf := testConfig()
	bus := simport.NewBus(testBaud)
	pa, pb := bus.Attach(), bus.Attach()
	ta, err := conf.NewTransport(pa)
	require.NoError(t, err)
	tb, err := conf.NewTransport(pb)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 2)
	go func() { errCh <- ta.Run(ctx) }()
	go func() { errCh <- tb.Run(ctx) }()
	waitFor(t, "receiver armed", pb.RXStream().Enabled)

	for i := 0; i < 5; i++ {
		h, err := ta.Sounds().Alloc()
		require.NoError(t, err)
		copy(ta.Sounds().Samples(h), constFrame(conf.BufferLen, int16(i+1)))
		require.True(t, ta.CaptureDrain(h))
		want := uint64(i + 1)
		waitFor(t, "peer received", func() bool { return tb.Stats().Jitter.Enqueued == want })
	}
	require.Equal(t, uint32(5)*tb.Jitter().TBuf(), tb.Jitter().HeadTS())

	var played []int16
	for i := 0; i < 8; i++ {
		samples := tb.PlayFeed()
		played = append(played, samples[0])
	}
	require.Equal(t, []int16{0, 0, 0, 1, 2, 3, 4, 5}, played)

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	require.Equal(t, context.Canceled, <-errCh)
	require.Equal(t, uint64(5), ta.Stats().TxFrames)
	require.Equal(t, conf.PacketBuffers, ta.Stats().Packets.Available)
	require.Equal(t, conf.PacketBuffers, tb.Stats().Packets.Available)
	require.Equal(t, conf.SoundBuffers, ta.Sounds().Available())
}

func TestControlMessages(t *testing.T) {
	tr, err := testConfig().NewTransport(simport.NewBus(testBaud).Attach())
	require.NoError(t, err)

	tests := []struct {
		op    string
		value float64
		check func()
	}{
		{"gain", 2.5, func() { require.Equal(t, 2.5, tr.Gain()) }},
		{"offset", -0.5, func() { require.Equal(t, -0.5, tr.Offset()) }},
		{"stream", 0, func() { require.False(t, tr.Streaming()) }},
		{"stream", 1, func() { require.True(t, tr.Streaming()) }},
		{"reset", 0, func() { require.Equal(t, uint64(0), tr.Stats().Played) }},
		{"tone", 2, func() { require.Equal(t, ToneADC, tr.Tone().Mode) }},
		{"tone-freq", 500, func() { require.Equal(t, 500, tr.Tone().Freq) }},
		{"tone-level", 0.25, func() { require.Equal(t, 0.25, tr.Tone().Level) }},
		{"tone", 0, func() { require.Equal(t, ToneOff, tr.Tone().Mode) }},
	}
	tr.PlayFeed()
	for _, test := range tests {
		t.Run(test.op, func(t *testing.T) {
			msg, err := ParseCommand(test.op, test.value)
			require.NoError(t, err)
			require.True(t, tr.Apply(msg))
			test.check()
		})
	}
	_, err = ParseCommand("volume", 1)
	require.Error(t, err)
	_, err = ParseCommand("gain", math.NaN())
	require.Error(t, err)
	msg, err := ParseCommand("gain", math.Inf(1))
	require.NoError(t, err)
	require.True(t, tr.Apply(msg))
	require.Equal(t, 8.0, tr.Gain())
	require.False(t, tr.Apply("gain"))
	require.Equal(t, sndbuf.Silence, tr.play[0])
}
