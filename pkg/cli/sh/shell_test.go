package sh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/telemetry"
)

func TestFormatInfo(t *testing.T) {
	cases := []struct {
		info telemetry.NodeInfo
		str  string
	}{
		{telemetry.NodeInfo{ID: "n1"}, "n1"},
		{telemetry.NodeInfo{ID: "n1", Port: "sim"}, "n1: sim"},
		{
			telemetry.NodeInfo{
				ID:         "n2",
				Port:       "/dev/ttyUSB0",
				Baud:       921600,
				Format:     "alaw",
				WireRate:   8000,
				DeviceRate: 16000,
				Delay:      "24ms",
			},
			"n2: /dev/ttyUSB0@921600 alaw 8000/16000Hz delay 24ms",
		},
	}
	for _, c := range cases {
		t.Run(c.str, func(t *testing.T) {
			require.Equal(t, c.str, FormatInfo(c.info))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	conf := NewConfig()
	require.NotEmpty(t, conf.MQTTBrokerURL)
	require.True(t, conf.Timeout > 0)
	conf.Node = "changed"
	require.NotEqual(t, "changed", NewConfig().Node)
}

func TestDisconnectWithoutShell(t *testing.T) {
	s := &Shell{Config: NewConfig()}
	s.Disconnect()
	s.Close()
	require.Empty(t, s.Node)
}
