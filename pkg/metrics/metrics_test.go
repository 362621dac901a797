package metrics

import (
	"io/ioutil"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/audio"
	fx "github.com/robotalks/audiolink/pkg/framework"
)

func testStats() audio.Stats {
	var st audio.Stats
	st.Streaming = true
	st.Gain = 0.5
	st.RxFrames = 10
	st.Underruns = 2
	st.Jitter.Level = 3
	st.Link.DMAErrors = 1
	st.Sounds.Available = 30
	st.Packets.Available = 8
	st.Sounds.Exhausted = 4
	return st
}

func TestCollector(t *testing.T) {
	c := NewCollector(testStats)
	require.Equal(t, len(transportMetrics), testutil.CollectAndCount(c))

	expected := `
# HELP audiolink_rx_frames_total Valid audio packets received.
# TYPE audiolink_rx_frames_total counter
audiolink_rx_frames_total 10
# HELP audiolink_jitter_level Buffers held by the jitter buffer.
# TYPE audiolink_jitter_level gauge
audiolink_jitter_level 3
# HELP audiolink_streaming 1 when the audio stream is enabled.
# TYPE audiolink_streaming gauge
audiolink_streaming 1
# HELP audiolink_pool_available Free buffers in a pool.
# TYPE audiolink_pool_available gauge
audiolink_pool_available{pool="packet"} 8
audiolink_pool_available{pool="sound"} 30
# HELP audiolink_pool_exhausted_total Allocations failed on an empty pool.
# TYPE audiolink_pool_exhausted_total counter
audiolink_pool_exhausted_total{pool="packet"} 0
audiolink_pool_exhausted_total{pool="sound"} 4
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"audiolink_rx_frames_total", "audiolink_jitter_level", "audiolink_streaming",
		"audiolink_pool_available", "audiolink_pool_exhausted_total"))
}

func TestHandler(t *testing.T) {
	loop := fx.NewLoop(time.Millisecond)
	reg, err := NewRegistry("n1", append(LoopCollectors(loop), NewCollector(testStats))...)
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, `audiolink_underruns_total{node="n1"} 2`)
	require.Contains(t, text, `audiolink_link_dma_errors_total{node="n1"} 1`)
	require.Contains(t, text, `audiolink_loop_cycles_total{node="n1"} 0`)
	require.Contains(t, text, `audiolink_gain{node="n1"} 0.5`)

	_, err = NewRegistry("n1", NewCollector(testStats), NewCollector(testStats))
	require.Error(t, err)
}
