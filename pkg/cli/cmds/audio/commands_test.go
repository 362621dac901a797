package audio

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/cli/sh"
	"github.com/robotalks/audiolink/pkg/telemetry"
)

func TestParseSwitch(t *testing.T) {
	cases := []struct {
		arg string
		on  bool
		err bool
	}{
		{"on", true, false},
		{"ON", true, false},
		{"1", true, false},
		{"off", false, false},
		{"disable", false, false},
		{"maybe", false, true},
		{"", false, true},
	}
	for _, c := range cases {
		t.Run(c.arg, func(t *testing.T) {
			on, err := ParseSwitch(c.arg)
			if c.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.on, on)
		})
	}
}

func TestFormatReport(t *testing.T) {
	snapshot := struct {
		Streaming bool
		RxFrames  uint64
		Jitter    struct {
			Level int
		}
	}{Streaming: true, RxFrames: 12}
	snapshot.Jitter.Level = 3
	r, err := telemetry.NewReport("n1", snapshot, time.Unix(100, 0))
	require.NoError(t, err)
	require.Equal(t, []string{
		"jitter.level 3",
		"rx_frames 12",
		"streaming true",
	}, FormatReport(r))
}

func TestRequestStatsNotConnected(t *testing.T) {
	_, err := requestStats(&sh.Shell{Config: sh.NewConfig(), Node: "n1"})
	require.Error(t, err)
}

func TestParseToneArgs(t *testing.T) {
	cases := []struct {
		args []string
		op   string
		val  float64
		err  bool
	}{
		{[]string{"off"}, "tone", 0, false},
		{[]string{"DAC"}, "tone", 1, false},
		{[]string{"adc"}, "tone", 2, false},
		{[]string{"freq", "440"}, "tone-freq", 440, false},
		{[]string{"level", "0.25"}, "tone-level", 0.25, false},
		{[]string{"both"}, "", 0, true},
		{[]string{"freq", "high"}, "", 0, true},
		{[]string{"gain", "1"}, "", 0, true},
		{nil, "", 0, true},
	}
	for _, c := range cases {
		t.Run(strings.Join(c.args, " "), func(t *testing.T) {
			op, val, err := ParseToneArgs(c.args)
			if c.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.op, op)
			require.Equal(t, c.val, val)
		})
	}
}
