package audio

import (
	"sync/atomic"

	"github.com/robotalks/audiolink/pkg/jitbuf"
	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/pktbuf"
	"github.com/robotalks/audiolink/pkg/sndbuf"
)

// Stats is a snapshot of the transport counters and those of its parts.
type Stats struct {
	Streaming bool
	Gain      float64
	Offset    float64
	Tone      ToneStatus

	RxFrames     uint64
	RxDiscarded  uint64
	CrcErrors    uint64
	LengthErrors uint64
	TxFrames     uint64
	TxErrors     uint64
	TxDrops      uint64
	CaptureDrops uint64
	Played       uint64
	Underruns    uint64
	AllocRetries uint64

	Jitter  jitbuf.Stats
	Link    link.Stats
	Sounds  sndbuf.Stats
	Packets pktbuf.Stats
}

type counters struct {
	rxFrames     uint64
	rxDiscarded  uint64
	crcErrors    uint64
	lengthErrors uint64
	txFrames     uint64
	txErrors     uint64
	txDrops      uint64
	captureDrops uint64
	played       uint64
	underruns    uint64
	allocRetries uint64
}

func (c *counters) load(reset bool) Stats {
	get := atomic.LoadUint64
	if reset {
		get = func(p *uint64) uint64 { return atomic.SwapUint64(p, 0) }
	}
	return Stats{
		RxFrames:     get(&c.rxFrames),
		RxDiscarded:  get(&c.rxDiscarded),
		CrcErrors:    get(&c.crcErrors),
		LengthErrors: get(&c.lengthErrors),
		TxFrames:     get(&c.txFrames),
		TxErrors:     get(&c.txErrors),
		TxDrops:      get(&c.txDrops),
		CaptureDrops: get(&c.captureDrops),
		Played:       get(&c.played),
		Underruns:    get(&c.underruns),
		AllocRetries: get(&c.allocRetries),
	}
}

func (t *Transport) stats(reset bool) Stats {
	st := t.counters.load(reset)
	st.Streaming = t.Streaming()
	st.Gain, st.Offset = t.Gain(), t.Offset()
	st.Tone = t.Tone()
	st.Jitter = t.jitter.Stats()
	if reset {
		t.jitter.ResetStats()
	}
	st.Link = t.link.Stats(reset)
	st.Sounds = t.sounds.Stats()
	st.Packets = t.packets.Stats()
	return st
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	return t.stats(false)
}

// ResetStats returns a snapshot of the counters and clears them. Pool
// counters are kept.
func (t *Transport) ResetStats() Stats {
	return t.stats(true)
}
