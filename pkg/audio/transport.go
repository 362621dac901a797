// Package audio moves sound buffers between an audio device and a packet
// link. Received packets are decoded, conditioned and resynchronized by a
// jitter buffer drained at the device cadence, captured buffers are
// decimated, encoded and transmitted.
package audio

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/codec"
	fx "github.com/robotalks/audiolink/pkg/framework"
	"github.com/robotalks/audiolink/pkg/jitbuf"
	"github.com/robotalks/audiolink/pkg/kernel"
	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/pktbuf"
	"github.com/robotalks/audiolink/pkg/sndbuf"
)

// Transport is the audio transport loop.
type Transport struct {
	conf    Config
	format  codec.Format
	sounds  *sndbuf.Pool
	packets *pktbuf.Pool
	link    *link.Link
	jitter  *jitbuf.Buffer
	cond    *codec.Conditioner

	captureQ  chan sndbuf.Handle
	capFilter *codec.Filter
	capBuf    []int16
	txWire    []int16
	txTS      uint32

	rxWire      []int16
	rxStreaming bool

	// play slots are only touched by PlayFeed.
	play    [2]sndbuf.Handle
	playIdx int

	tone      toneGen
	streaming int32
	counters
}

// Sounds returns the sound buffer pool.
func (t *Transport) Sounds() *sndbuf.Pool {
	return t.sounds
}

// Link returns the packet link.
func (t *Transport) Link() *link.Link {
	return t.link
}

// Jitter returns the jitter buffer.
func (t *Transport) Jitter() *jitbuf.Buffer {
	return t.jitter
}

// Config returns the configuration the transport was created with.
func (t *Transport) Config() Config {
	return t.conf
}

// Streaming reports whether the audio stream is enabled.
func (t *Transport) Streaming() bool {
	return atomic.LoadInt32(&t.streaming) != 0
}

// SetStreaming enables or disables the audio stream. A disabled stream
// discards received audio, empties the jitter buffer and transmits
// nothing.
func (t *Transport) SetStreaming(on bool) {
	var v int32
	if on {
		v = 1
	}
	if atomic.SwapInt32(&t.streaming, v) == v {
		return
	}
	if on {
		glog.Info("audio: stream enabled")
		return
	}
	n := t.jitter.Flush()
	glog.Infof("audio: stream disabled, %d buffers flushed", n)
}

// SetGain sets the playback gain and returns the value applied after
// clamping. NaN leaves the gain unchanged.
func (t *Transport) SetGain(gain float64) float64 {
	if math.IsNaN(gain) {
		return t.Gain()
	}
	return codec.Float(t.cond.SetGain(codec.Q15(gain)))
}

// SetOffset sets the playback DC offset and returns the value applied
// after clamping. NaN leaves the offset unchanged.
func (t *Transport) SetOffset(offset float64) float64 {
	if math.IsNaN(offset) {
		return t.Offset()
	}
	return codec.Float(t.cond.SetOffset(codec.Q15(offset)))
}

// Gain returns the playback gain.
func (t *Transport) Gain() float64 {
	return codec.Float(t.cond.Gain())
}

// Offset returns the playback DC offset.
func (t *Transport) Offset() float64 {
	return codec.Float(t.cond.Offset())
}

// PlayFeed returns the samples for the next playback period. It is called
// from the playback completion callback and never blocks. The slice stays
// valid until the call after next. An empty jitter buffer plays silence,
// or the test tone in ToneDAC mode.
func (t *Transport) PlayFeed() []int16 {
	slot := &t.play[t.playIdx]
	t.playIdx ^= 1
	t.sounds.Release(*slot)
	h, ok := t.jitter.Dequeue()
	if !ok {
		if t.Streaming() {
			atomic.AddUint64(&t.underruns, 1)
		}
		h = t.toneFill(ToneDAC)
	}
	*slot = h
	atomic.AddUint64(&t.played, 1)
	return t.sounds.Samples(h)
}

// CaptureDrain hands a captured buffer over to the transmit task. The
// reference moves with it. It never blocks: when the queue is full the
// buffer is released and false returned.
func (t *Transport) CaptureDrain(h sndbuf.Handle) bool {
	select {
	case t.captureQ <- h:
		return true
	default:
		atomic.AddUint64(&t.captureDrops, 1)
		t.sounds.Release(h)
		return false
	}
}

// Run runs the receive and transmit tasks until ctx is done. On return
// the link is reset and all buffers are given back.
func (t *Transport) Run(ctx context.Context) error {
	runner := fx.NewRunnerWith(ctx)
	runner.Go(
		fx.NamedFunc("audio-rx", t.receiveTask),
		fx.NamedFunc("audio-tx", t.transmitTask),
	)
	err := runner.Wait()
	t.shutdown()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (t *Transport) shutdown() {
	tx, rx := t.link.Reset()
	t.packets.Free(tx)
	t.packets.Free(rx)
	for {
		select {
		case h := <-t.captureQ:
			t.sounds.Release(h)
		default:
			n := t.jitter.Flush()
			glog.V(2).Infof("audio: transport stopped, %d buffers flushed", n)
			return
		}
	}
}

// allocPacket retries after a back-off while the pool is exhausted. Only
// the receive task waits on it.
func (t *Transport) allocPacket(ctx context.Context) (*pktbuf.Buffer, error) {
	for {
		buf, err := t.packets.Alloc()
		if err == nil {
			return buf, nil
		}
		atomic.AddUint64(&t.allocRetries, 1)
		if err := kernel.Sleep(ctx, t.conf.AllocBackoff); err != nil {
			return nil, err
		}
	}
}

func (t *Transport) allocSound(ctx context.Context) (sndbuf.Handle, error) {
	for {
		h, err := t.sounds.Alloc()
		if err == nil {
			return h, nil
		}
		atomic.AddUint64(&t.allocRetries, 1)
		if err := kernel.Sleep(ctx, t.conf.AllocBackoff); err != nil {
			return sndbuf.Nil, err
		}
	}
}

func (t *Transport) receiveTask(ctx context.Context) error {
	for {
		buf, err := t.allocPacket(ctx)
		if err != nil {
			return err
		}
		prev, n, err := t.link.Receive(ctx, buf)
		if err != nil {
			t.packets.Free(buf)
			return err
		}
		if prev == nil {
			continue
		}
		err = t.receiveFrame(ctx, prev.Bytes()[:n])
		t.packets.Free(prev)
		if err != nil {
			return err
		}
	}
}

// receiveFrame only fails when ctx is done.
func (t *Transport) receiveFrame(ctx context.Context, frame []byte) error {
	pkt, err := codec.Decode(frame)
	switch err {
	case nil:
	case codec.ErrCrcMismatch:
		atomic.AddUint64(&t.crcErrors, 1)
		glog.V(2).Infof("audio: RX %d bytes, %v", len(frame), err)
		return nil
	default:
		atomic.AddUint64(&t.lengthErrors, 1)
		glog.V(2).Infof("audio: RX %d bytes, %v", len(frame), err)
		return nil
	}
	if len(pkt.Payload) != len(t.rxWire)*t.format.BytesPerSample() {
		atomic.AddUint64(&t.lengthErrors, 1)
		glog.V(2).Infof("audio: RX payload %d bytes, expected %d samples", len(pkt.Payload), len(t.rxWire))
		return nil
	}
	atomic.AddUint64(&t.rxFrames, 1)
	if !t.Streaming() {
		t.rxStreaming = false
		atomic.AddUint64(&t.rxDiscarded, 1)
		return nil
	}
	if !t.rxStreaming {
		t.rxStreaming = true
		t.cond.Reset()
	}

	t.format.Samples(t.rxWire, pkt.Payload)
	h, err := t.allocSound(ctx)
	if err != nil {
		return err
	}
	t.cond.Process(t.sounds.Samples(h), t.rxWire)
	if err := t.jitter.Enqueue(h, pkt.Timestamp); err != nil {
		glog.V(2).Infof("audio: RX ts=%d dropped: %v", pkt.Timestamp, err)
	} else if glog.V(3) {
		glog.Infof("audio: RX ts=%d level=%d", pkt.Timestamp, t.jitter.Level())
	}
	t.sounds.Release(h)
	return nil
}

func (t *Transport) transmitTask(ctx context.Context) error {
	for {
		var h sndbuf.Handle
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h = <-t.captureQ:
		}
		err := t.transmit(ctx, h)
		t.sounds.Release(h)
		if err != nil {
			return err
		}
	}
}

// transmit only fails when the link can no longer be used.
func (t *Transport) transmit(ctx context.Context, h sndbuf.Handle) error {
	ts := t.txTS
	t.txTS += uint32(len(t.txWire))
	if !t.Streaming() {
		return nil
	}

	src := t.sounds.Samples(h)
	if t.capFilter != nil {
		t.capFilter.Apply(t.capBuf, src)
		src = t.capBuf
	}
	n := codec.Decimate(t.txWire, src, t.conf.Factor())

	// the capture cadence can't wait for a packet buffer, the frame is
	// lost instead
	buf, err := t.packets.Alloc()
	if err != nil {
		atomic.AddUint64(&t.txDrops, 1)
		glog.V(2).Infof("audio: TX ts=%d dropped: %v", ts, err)
		return nil
	}
	size, err := t.format.Encode(buf.Bytes(), ts, t.txWire[:n])
	if err != nil {
		t.packets.Free(buf)
		atomic.AddUint64(&t.txErrors, 1)
		glog.Errorf("audio: TX encode: %v", err)
		return nil
	}
	prev, err := t.link.Enqueue(ctx, buf, size)
	if prev != nil {
		t.packets.Free(prev)
	}
	if err != nil {
		t.packets.Free(buf)
		return err
	}
	atomic.AddUint64(&t.txFrames, 1)
	return nil
}
