// Package metrics exports transport statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/audiolink/pkg/audio"
	fx "github.com/robotalks/audiolink/pkg/framework"
)

const namespace = "audiolink"

type metric struct {
	desc  *prometheus.Desc
	vtype prometheus.ValueType
	value func(*audio.Stats) float64
	label string
}

func counter(name, help string, value func(*audio.Stats) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name+"_total"), help, nil, nil),
		vtype: prometheus.CounterValue,
		value: value,
	}
}

func gauge(name, help string, value func(*audio.Stats) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		vtype: prometheus.GaugeValue,
		value: value,
	}
}

var (
	poolAvailable = prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "available"),
		"Free buffers in a pool.", []string{"pool"}, nil)
	poolExhausted = prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "exhausted_total"),
		"Allocations failed on an empty pool.", []string{"pool"}, nil)
)

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var transportMetrics = []metric{
	counter("rx_frames", "Valid audio packets received.", func(s *audio.Stats) float64 { return float64(s.RxFrames) }),
	counter("rx_discarded", "Packets received while the stream was disabled.", func(s *audio.Stats) float64 { return float64(s.RxDiscarded) }),
	counter("crc_errors", "Packets rejected for a checksum mismatch.", func(s *audio.Stats) float64 { return float64(s.CrcErrors) }),
	counter("length_errors", "Packets rejected for a length mismatch.", func(s *audio.Stats) float64 { return float64(s.LengthErrors) }),
	counter("tx_frames", "Audio packets transmitted.", func(s *audio.Stats) float64 { return float64(s.TxFrames) }),
	counter("tx_errors", "Captured buffers which could not be encoded.", func(s *audio.Stats) float64 { return float64(s.TxErrors) }),
	counter("tx_drops", "Captured buffers dropped for lack of a packet buffer.", func(s *audio.Stats) float64 { return float64(s.TxDrops) }),
	counter("capture_drops", "Captured buffers dropped on a full queue.", func(s *audio.Stats) float64 { return float64(s.CaptureDrops) }),
	counter("played", "Playback periods fed.", func(s *audio.Stats) float64 { return float64(s.Played) }),
	counter("underruns", "Playback periods fed with silence for lack of audio.", func(s *audio.Stats) float64 { return float64(s.Underruns) }),
	counter("alloc_retries", "Buffer allocations retried after a back-off.", func(s *audio.Stats) float64 { return float64(s.AllocRetries) }),
	counter("jitter_overflows", "Frames dropped on a full jitter buffer.", func(s *audio.Stats) float64 { return float64(s.Jitter.Overflows) }),
	counter("jitter_anomalies", "Frames arriving out of order.", func(s *audio.Stats) float64 { return float64(s.Jitter.Anomalies) }),
	counter("jitter_resyncs", "Jitter buffer resynchronizations.", func(s *audio.Stats) float64 { return float64(s.Jitter.Resyncs) }),
	counter("jitter_silence_fill", "Silence buffers inserted in gaps.", func(s *audio.Stats) float64 { return float64(s.Jitter.SilenceFill) }),
	counter("link_rx_octets", "Octets received on the link.", func(s *audio.Stats) float64 { return float64(s.Link.RxOctets) }),
	counter("link_tx_octets", "Octets transmitted on the link.", func(s *audio.Stats) float64 { return float64(s.Link.TxOctets) }),
	counter("link_dma_errors", "DMA transfer errors.", func(s *audio.Stats) float64 { return float64(s.Link.DMAErrors) }),
	counter("link_fifo_errors", "DMA FIFO errors.", func(s *audio.Stats) float64 { return float64(s.Link.FIFOErrors) }),
	counter("link_violations", "DMA streams found running before reprogramming.", func(s *audio.Stats) float64 { return float64(s.Link.Violations) }),
	gauge("jitter_level", "Buffers held by the jitter buffer.", func(s *audio.Stats) float64 { return float64(s.Jitter.Level) }),
	gauge("streaming", "1 when the audio stream is enabled.", func(s *audio.Stats) float64 { return boolValue(s.Streaming) }),
	gauge("gain", "Playback gain.", func(s *audio.Stats) float64 { return s.Gain }),
	gauge("offset", "Playback DC offset.", func(s *audio.Stats) float64 { return s.Offset }),
	{desc: poolAvailable, vtype: prometheus.GaugeValue, label: "sound",
		value: func(s *audio.Stats) float64 { return float64(s.Sounds.Available) }},
	{desc: poolAvailable, vtype: prometheus.GaugeValue, label: "packet",
		value: func(s *audio.Stats) float64 { return float64(s.Packets.Available) }},
	{desc: poolExhausted, vtype: prometheus.CounterValue, label: "sound",
		value: func(s *audio.Stats) float64 { return float64(s.Sounds.Exhausted) }},
	{desc: poolExhausted, vtype: prometheus.CounterValue, label: "packet",
		value: func(s *audio.Stats) float64 { return float64(s.Packets.Exhausted) }},
}

// Collector exports the statistics of a Transport. Counters restart
// from zero when the transport statistics are reset.
type Collector struct {
	stats func() audio.Stats
}

// NewCollector creates a Collector taking snapshots with stats.
func NewCollector(stats func() audio.Stats) *Collector {
	return &Collector{stats: stats}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	seen := make(map[*prometheus.Desc]bool)
	for _, m := range transportMetrics {
		if !seen[m.desc] {
			seen[m.desc] = true
			ch <- m.desc
		}
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	for _, m := range transportMetrics {
		if m.label != "" {
			ch <- prometheus.MustNewConstMetric(m.desc, m.vtype, m.value(&st), m.label)
		} else {
			ch <- prometheus.MustNewConstMetric(m.desc, m.vtype, m.value(&st))
		}
	}
}

// LoopCollectors exports the cadence of a device loop.
func LoopCollectors(loop *fx.Loop) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cycles_total",
			Help:      "Device loop cycles run.",
		}, func() float64 { return float64(loop.Cycles()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_overruns_total",
			Help:      "Device loop cycles longer than the period.",
		}, func() float64 { return float64(loop.Overruns()) }),
	}
}

// NewRegistry creates a registry with the collectors, labeled with the
// node ID.
func NewRegistry(node string, collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"node": node}, reg)
	for _, c := range collectors {
		if err := wrapped.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves the registry in the exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
