package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/audio"
)

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"RxFrames":    "rx_frames",
		"DMAErrors":   "dma_errors",
		"FIFOErrors":  "fifo_errors",
		"CRC":         "crc",
		"Level":       "level",
		"SilenceFill": "silence_fill",
	}
	for in, out := range tests {
		t.Run(in, func(t *testing.T) {
			require.Equal(t, out, SnakeCase(in))
		})
	}
}

func TestTopics(t *testing.T) {
	topic := NodeTopic("abc", StatsTopic)
	require.Equal(t, "abc/stats", topic)
	require.Equal(t, "abc", NodeFromTopic(topic))
	require.Equal(t, "", NodeFromTopic("stats"))
}

func TestReport(t *testing.T) {
	var st audio.Stats
	st.Streaming = true
	st.Gain = 0.125
	st.RxFrames = 10
	st.Underruns = 2
	st.Jitter.Level = 3
	st.Link.DMAErrors = 1
	at := time.Unix(1700000000, 5000).UTC()

	r, err := NewReport("node1", st, at)
	require.NoError(t, err)
	payload, err := Encode(r)
	require.NoError(t, err)
	r, err = DecodeReport(payload)
	require.NoError(t, err)

	require.Equal(t, "node1", r.Node)
	require.True(t, at.Equal(r.Timestamp()))
	require.Equal(t, 10.0, r.Number("rx_frames"))
	require.Equal(t, 2.0, r.Number("underruns"))
	require.Equal(t, 0.125, r.Number("gain"))
	require.Equal(t, 3.0, r.Number("jitter.level"))
	require.Equal(t, 1.0, r.Number("link.dma_errors"))
	require.Equal(t, 0.0, r.Number("link.missing"))
	v, ok := r.Lookup("streaming")
	require.True(t, ok)
	require.True(t, v.GetBoolValue())
	_, ok = r.Lookup("rx_frames.sub")
	require.False(t, ok)

	_, err = NewReport("node1", 5, at)
	require.Error(t, err)
}

func TestCommand(t *testing.T) {
	payload, err := Encode(&Command{Op: "gain", Value: 2.5})
	require.NoError(t, err)
	cmd, err := DecodeCommand(payload)
	require.NoError(t, err)
	require.Equal(t, "gain", cmd.Op)
	require.Equal(t, 2.5, cmd.Value)

	payload, err = Encode(&Command{Value: 1})
	require.NoError(t, err)
	_, err = DecodeCommand(payload)
	require.Error(t, err)
}

func TestNodeInfo(t *testing.T) {
	payload, err := EncodeInfo(NodeInfo{ID: "n1", Baud: 500000, Format: "alaw"})
	require.NoError(t, err)
	info, err := DecodeInfo(payload)
	require.NoError(t, err)
	require.Equal(t, "n1", info.ID)
	require.Equal(t, 500000, info.Baud)
	_, err = DecodeInfo(nil)
	require.Error(t, err)
}
