package audio

import (
	"fmt"
	"math"

	"github.com/golang/glog"
)

// SetGain requests a playback gain change.
type SetGain struct {
	Gain float64
}

// SetOffset requests a playback DC offset change.
type SetOffset struct {
	Offset float64
}

// SetStream enables or disables the audio stream.
type SetStream struct {
	Enabled bool
}

// ResetStats requests the counters to be cleared.
type ResetStats struct{}

// SetToneMode selects where the test tone is inserted.
type SetToneMode struct {
	Mode ToneMode
}

// SetToneFreq changes the test tone frequency in Hz.
type SetToneFreq struct {
	Freq int
}

// SetToneLevel changes the test tone amplitude, 0 to 1.
type SetToneLevel struct {
	Level float64
}

// Apply executes a control message. It returns false if msg is not a
// control message.
func (t *Transport) Apply(msg interface{}) bool {
	switch m := msg.(type) {
	case SetGain:
		glog.Infof("audio: gain %.4f", t.SetGain(m.Gain))
	case SetOffset:
		glog.Infof("audio: offset %.4f", t.SetOffset(m.Offset))
	case SetStream:
		t.SetStreaming(m.Enabled)
	case SetToneMode:
		glog.Infof("audio: tone %v", t.SetToneMode(m.Mode))
	case SetToneFreq:
		glog.Infof("audio: tone frequency %d Hz", t.SetToneFreq(m.Freq))
	case SetToneLevel:
		glog.Infof("audio: tone level %.4f", t.SetToneLevel(m.Level))
	case ResetStats:
		st := t.ResetStats()
		glog.Infof("audio: stats reset, rx=%d tx=%d underruns=%d", st.RxFrames, st.TxFrames, st.Underruns)
	default:
		return false
	}
	return true
}

// ParseCommand builds a control message from an operation name and its
// argument, as typed in a shell or carried by a remote command.
func ParseCommand(op string, value float64) (interface{}, error) {
	if math.IsNaN(value) {
		return nil, fmt.Errorf("invalid %s value %v", op, value)
	}
	switch op {
	case "gain":
		return SetGain{Gain: value}, nil
	case "offset":
		return SetOffset{Offset: value}, nil
	case "stream":
		return SetStream{Enabled: value != 0}, nil
	case "reset":
		return ResetStats{}, nil
	case "tone":
		return SetToneMode{Mode: ToneMode(math.Max(-1, math.Min(value, 3)))}, nil
	case "tone-freq":
		return SetToneFreq{Freq: int(math.Round(math.Max(-1, math.Min(value, math.MaxInt32))))}, nil
	case "tone-level":
		return SetToneLevel{Level: value}, nil
	}
	return nil, fmt.Errorf("unknown command %q", op)
}
