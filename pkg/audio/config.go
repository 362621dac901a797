package audio

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/robotalks/audiolink/pkg/codec"
	"github.com/robotalks/audiolink/pkg/jitbuf"
	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/pktbuf"
	"github.com/robotalks/audiolink/pkg/sndbuf"
)

// Config defines the geometry, timing and conditioning of a Transport.
type Config struct {
	// BufferLen is the number of device samples in a sound buffer.
	BufferLen      int           `mapstructure:"buffer_len"`
	SoundBuffers   int           `mapstructure:"sound_buffers"`
	PacketBuffers  int           `mapstructure:"packet_buffers"`
	JitterCapacity int           `mapstructure:"jitter_capacity"`
	Delay          time.Duration `mapstructure:"delay"`
	WireRate       int           `mapstructure:"wire_rate"`
	DeviceRate     int           `mapstructure:"device_rate"`
	Format         string        `mapstructure:"format"`

	Gain            float64 `mapstructure:"gain"`
	Offset          float64 `mapstructure:"offset"`
	HighPass        bool    `mapstructure:"high_pass"`
	CaptureHighPass bool    `mapstructure:"capture_high_pass"`
	Streaming       bool    `mapstructure:"streaming"`

	CaptureQueue int           `mapstructure:"capture_queue"`
	AllocBackoff time.Duration `mapstructure:"alloc_backoff"`
	// StrictLink panics on link contract violations.
	StrictLink bool `mapstructure:"strict_link"`
}

// Defaults
const (
	DefaultWireRate   = 8000
	DefaultDeviceRate = 16000
	DefaultDelay      = 24 * time.Millisecond
)

var defaultConfig = Config{
	BufferLen:       sndbuf.DefaultLen,
	SoundBuffers:    32,
	PacketBuffers:   8,
	JitterCapacity:  16,
	Delay:           DefaultDelay,
	WireRate:        DefaultWireRate,
	DeviceRate:      DefaultDeviceRate,
	Format:          codec.FormatPCM16.String(),
	Gain:            codec.Float(codec.DefaultGain),
	HighPass:        true,
	CaptureHighPass: true,
	Streaming:       true,
	CaptureQueue:    4,
	AllocBackoff:    time.Second,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.IntVar(&defaultConfig.BufferLen, "buffer-len", defaultConfig.BufferLen, "Device samples per sound buffer.")
	flag.IntVar(&defaultConfig.SoundBuffers, "sound-buffers", defaultConfig.SoundBuffers, "Sound buffer pool capacity.")
	flag.IntVar(&defaultConfig.PacketBuffers, "packet-buffers", defaultConfig.PacketBuffers, "Packet buffer pool capacity.")
	flag.IntVar(&defaultConfig.JitterCapacity, "jitter-capacity", defaultConfig.JitterCapacity, "Jitter buffer slots, a power of two.")
	flag.DurationVar(&defaultConfig.Delay, "delay", defaultConfig.Delay, "Jitter buffer target delay.")
	flag.IntVar(&defaultConfig.WireRate, "wire-rate", defaultConfig.WireRate, "Sample rate on the bus.")
	flag.IntVar(&defaultConfig.DeviceRate, "device-rate", defaultConfig.DeviceRate, "Sample rate of the audio device, a multiple of the wire rate.")
	flag.StringVar(&defaultConfig.Format, "format", defaultConfig.Format, "Payload format: pcm16 or alaw.")
	flag.Float64Var(&defaultConfig.Gain, "gain", defaultConfig.Gain, "Playback gain, -8 to 8.")
	flag.Float64Var(&defaultConfig.Offset, "offset", defaultConfig.Offset, "Playback DC offset, -1 to 1.")
	flag.BoolVar(&defaultConfig.HighPass, "high-pass", defaultConfig.HighPass, "Enable the playback high-pass filter.")
	flag.BoolVar(&defaultConfig.CaptureHighPass, "capture-high-pass", defaultConfig.CaptureHighPass, "Enable the capture high-pass filter.")
	flag.BoolVar(&defaultConfig.Streaming, "streaming", defaultConfig.Streaming, "Start with the audio stream enabled.")
	flag.IntVar(&defaultConfig.CaptureQueue, "capture-queue", defaultConfig.CaptureQueue, "Captured buffers waiting for transmission.")
	flag.DurationVar(&defaultConfig.AllocBackoff, "alloc-backoff", defaultConfig.AllocBackoff, "Wait before retrying an exhausted pool.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Factor returns the oversampling factor from wire to device rate.
func (c *Config) Factor() int {
	if c.WireRate <= 0 {
		return 1
	}
	return c.DeviceRate / c.WireRate
}

// WireSamples returns the number of wire samples carried per packet.
func (c *Config) WireSamples() int {
	return c.BufferLen / c.Factor()
}

// FrameDuration returns the playing time of a sound buffer.
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.BufferLen) * time.Second / time.Duration(c.DeviceRate)
}

// PacketSize returns the packet buffer size. It leaves room for a few
// bytes more than a valid packet so that oversized frames are detected.
func (c *Config) PacketSize() int {
	return codec.HeaderLen + c.WireSamples()*codec.FormatPCM16.BytesPerSample() + 8
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BufferLen <= 0 || c.SoundBuffers <= 0 || c.PacketBuffers < 2 {
		return fmt.Errorf("invalid pool geometry %d/%d/%d", c.BufferLen, c.SoundBuffers, c.PacketBuffers)
	}
	if c.WireRate <= 0 || c.DeviceRate < c.WireRate || c.DeviceRate%c.WireRate != 0 {
		return fmt.Errorf("device rate %d is not a multiple of wire rate %d", c.DeviceRate, c.WireRate)
	}
	if c.BufferLen%c.Factor() != 0 {
		return fmt.Errorf("buffer length %d is not a multiple of %d", c.BufferLen, c.Factor())
	}
	if c.Delay < 0 {
		return fmt.Errorf("negative delay %v", c.Delay)
	}
	if _, err := codec.ParseFormat(c.Format); err != nil {
		return err
	}
	return nil
}

// NewTransport creates a Transport over port.
func (c *Config) NewTransport(port link.Port) (*Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	format, _ := codec.ParseFormat(c.Format)
	sounds := sndbuf.NewPool(c.SoundBuffers, c.BufferLen)
	jitter, err := jitbuf.New(sounds, jitbuf.Config{
		Capacity:   c.JitterCapacity,
		ClockRate:  c.WireRate,
		SampleRate: c.DeviceRate,
		BufferLen:  c.BufferLen,
		Delay:      c.Delay,
	})
	if err != nil {
		return nil, err
	}
	t := &Transport{
		conf:    *c,
		format:  format,
		sounds:  sounds,
		packets: pktbuf.NewPool(c.PacketBuffers, c.PacketSize()),
		link:    link.New(port, link.Options{Strict: c.StrictLink}),
		jitter:  jitter,
		cond: codec.NewConditioner(codec.ConditionerConfig{
			Gain:     codec.Q15(c.Gain),
			Offset:   codec.Q15(c.Offset),
			HighPass: c.HighPass,
			Factor:   c.Factor(),
		}),
		captureQ: make(chan sndbuf.Handle, c.CaptureQueue),
		rxWire:   make([]int16, c.WireSamples()),
		txWire:   make([]int16, c.WireSamples()),
		play:     [2]sndbuf.Handle{sndbuf.Silence, sndbuf.Silence},
	}
	t.tone.init(c.DeviceRate)
	if c.CaptureHighPass {
		t.capFilter = codec.NewFilter(codec.HighPass120)
		t.capBuf = make([]int16, c.BufferLen)
	}
	t.SetStreaming(c.Streaming)
	return t, nil
}

// MustNewTransport creates a Transport and fails on error.
func (c *Config) MustNewTransport(port link.Port) *Transport {
	t, err := c.NewTransport(port)
	if err != nil {
		log.Fatalln(err)
	}
	return t
}
