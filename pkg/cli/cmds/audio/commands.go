// Package audio adds the transport control commands to the shell.
package audio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/protobuf/jsonpb"
	structpb "github.com/golang/protobuf/ptypes/struct"

	audiolink "github.com/robotalks/audiolink/pkg/audio"
	"github.com/robotalks/audiolink/pkg/cli/sh"
	"github.com/robotalks/audiolink/pkg/telemetry"
	"github.com/robotalks/audiolink/pkg/telemetry/mqtt"
)

// ParseSwitch parses on/off style arguments.
func ParseSwitch(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "1", "true", "enable", "yes":
		return true, nil
	case "off", "0", "false", "disable", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q, expect on or off", arg)
}

// ParseToneArgs turns the arguments of the tone command into a remote
// command: a mode name, or "freq HZ" or "level L".
func ParseToneArgs(args []string) (op string, val float64, err error) {
	switch {
	case len(args) == 1:
		mode, err := audiolink.ParseToneMode(args[0])
		return "tone", float64(mode), err
	case len(args) == 2 && (args[0] == "freq" || args[0] == "level"):
		val, err = strconv.ParseFloat(args[1], 64)
		return "tone-" + args[0], val, err
	}
	return "", 0, fmt.Errorf("usage: tone off|dac|adc, tone freq HZ or tone level LEVEL")
}

func valueCmd(name, alias, help, op string) ishell.Cmd {
	return ishell.Cmd{
		Name:    name,
		Aliases: []string{alias},
		Help:    help,
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("usage: %s %s", name, help))
				return
			}
			val, err := strconv.ParseFloat(c.Args[0], 64)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, op, val)
		}),
	}
}

// FormatReport renders a stats report as sorted "key value" lines.
func FormatReport(r *telemetry.Report) []string {
	var lines []string
	var walk func(prefix string, s *structpb.Struct)
	walk = func(prefix string, s *structpb.Struct) {
		for key, val := range s.GetFields() {
			name := key
			if prefix != "" {
				name = prefix + "." + key
			}
			switch v := val.GetKind().(type) {
			case *structpb.Value_StructValue:
				walk(name, v.StructValue)
			case *structpb.Value_NumberValue:
				lines = append(lines, fmt.Sprintf("%s %v", name, v.NumberValue))
			case *structpb.Value_BoolValue:
				lines = append(lines, fmt.Sprintf("%s %v", name, v.BoolValue))
			case *structpb.Value_StringValue:
				lines = append(lines, fmt.Sprintf("%s %s", name, v.StringValue))
			}
		}
	}
	walk("", r.Counters)
	sort.Strings(lines)
	return lines
}

func requestStats(s *sh.Shell) (*telemetry.Report, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("not connected")
	}
	ch := make(chan *telemetry.Report, 1)
	sub := s.Client.WatchStats(s.Node, func(r *telemetry.Report) {
		select {
		case ch <- r:
		default:
		}
	})
	defer sub.Close()
	if !sub.Token.WaitTimeout(s.Config.Timeout) {
		return nil, fmt.Errorf("subscribe stats of %s: timeout", s.Node)
	}
	if err := sub.Token.Error(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()
	if err := s.Client.Send(ctx, s.Node, mqtt.StatsOp, 0); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no stats from %s: %v", s.Node, ctx.Err())
	}
}

var (
	// GainCmd sets the playback gain.
	GainCmd = valueCmd("gain", "g", "GAIN", "gain")
	// OffsetCmd sets the playback DC offset.
	OffsetCmd = valueCmd("offset", "o", "OFFSET", "offset")

	// StreamCmd enables or disables the audio stream.
	StreamCmd = ishell.Cmd{
		Name: "stream",
		Help: "on|off",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("usage: stream on|off"))
				return
			}
			on, err := ParseSwitch(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			val := 0.0
			if on {
				val = 1
			}
			sh.DoCommand(c, "stream", val)
		}),
	}

	// ToneCmd controls the test tone generator.
	ToneCmd = ishell.Cmd{
		Name: "tone",
		Help: "off|dac|adc, freq HZ, level LEVEL",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			op, val, err := ParseToneArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, op, val)
		}),
	}

	// ResetCmd clears the transport counters.
	ResetCmd = ishell.Cmd{
		Name: "reset",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, "reset", 0)
		}),
	}

	// StatsCmd prints the current counters of the node.
	StatsCmd = ishell.Cmd{
		Name:    "stats",
		Aliases: []string{"s"},
		Help:    "[KEY...]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			r, err := requestStats(s)
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) > 0 {
				vals := make(map[string]float64, len(c.Args))
				for _, key := range c.Args {
					vals[key] = r.Number(key)
				}
				if s.OutputJSON {
					sh.PrintJSON(c, vals)
					return
				}
				for _, key := range c.Args {
					c.Printf("%s %v\n", key, vals[key])
				}
				return
			}
			if s.OutputJSON {
				out, err := (&jsonpb.Marshaler{}).MarshalToString(r.Counters)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(out)
				return
			}
			c.Printf("%s at %s\n", r.Node, r.Timestamp().Format(time.RFC3339))
			for _, line := range FormatReport(r) {
				c.Println(line)
			}
		}),
	}
)

func init() {
	sh.AddCmds(
		&GainCmd,
		&OffsetCmd,
		&StreamCmd,
		&ToneCmd,
		&ResetCmd,
		&StatsCmd,
	)
}
