package sh

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/audiolink/pkg/config"
	"github.com/robotalks/audiolink/pkg/telemetry"
	"github.com/robotalks/audiolink/pkg/telemetry/mqtt"
)

// Config specifies where the shell finds nodes.
type Config struct {
	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// Node is connected automatically when set.
	Node    string
	Timeout time.Duration
}

var defaultConfig = Config{
	MQTTBrokerURL: config.Default().MQTTBrokerURL,
	Node:          os.Getenv("AUDIOLINK_NODE"),
	Timeout:       time.Second,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.Node, "node", defaultConfig.Node, "Node to connect")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Command and discovery timeout")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *Config
	Client *mqtt.Client
	// Node is the connected node, empty if none.
	Node string
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Node == "" {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatInfo prints NodeInfo into friendly string for display.
func FormatInfo(info telemetry.NodeInfo) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "%s", info.ID)
	if info.Port != "" {
		fmt.Fprintf(&w, ": %s", info.Port)
		if info.Baud > 0 {
			fmt.Fprintf(&w, "@%d", info.Baud)
		}
	}
	if info.Format != "" {
		fmt.Fprintf(&w, " %s %d/%dHz", info.Format, info.WireRate, info.DeviceRate)
	}
	if info.Delay != "" {
		fmt.Fprintf(&w, " delay %s", info.Delay)
	}
	return w.String()
}

// PrintJSON prints v as JSON.
func PrintJSON(c *ishell.Context, v interface{}) error {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return err
	}
	c.Println(string(out))
	return nil
}

// DoCommand sends a command to the connected node.
func DoCommand(c *ishell.Context, op string, value float64) error {
	s := ShellFrom(c)
	if s.Node == "" {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return err
	}
	client, err := s.client()
	if err != nil {
		c.Err(err)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()
	if err := client.Send(ctx, s.Node, op, value); err != nil {
		c.Err(err)
		return err
	}
	if s.OutputJSON {
		return PrintJSON(c, map[string]interface{}{"node": s.Node, "op": op, "value": value})
	}
	c.Println("OK")
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

func (s *Shell) client() (*mqtt.Client, error) {
	if s.Client != nil {
		return s.Client, nil
	}
	client, err := mqtt.NewClient(s.Config.MQTTBrokerURL)
	if err != nil {
		return nil, err
	}
	client.DiscoverTimeout = s.Config.Timeout
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect %s: %v", s.Config.MQTTBrokerURL, err)
	}
	s.Client = client
	return client, nil
}

// DiscoverNodes discovers nodes.
func (s *Shell) DiscoverNodes(filter func(telemetry.NodeInfo) bool) ([]telemetry.NodeInfo, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}
	infoList, err := client.Discover(context.Background())
	if err != nil {
		return nil, err
	}
	if filter != nil {
		items := make([]telemetry.NodeInfo, 0, len(infoList))
		for _, info := range infoList {
			if filter(info) {
				items = append(items, info)
			}
		}
		infoList = items
	}
	return infoList, nil
}

// SelectNode discovers nodes and asks for a choice.
func (s *Shell) SelectNode(filter func(telemetry.NodeInfo) bool) (*telemetry.NodeInfo, error) {
	infoList, err := s.DiscoverNodes(filter)
	if err != nil {
		return nil, err
	}
	if len(infoList) == 0 {
		return nil, nil
	}
	var index int
	if len(infoList) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 nodes discovered in non-interactive mode")
		}
		items := make([]string, len(infoList))
		for n, info := range infoList {
			items[n] = FormatInfo(info)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
		if index < 0 {
			return nil, nil
		}
	}
	return &infoList[index], nil
}

// Connect selects node as the target of commands.
func (s *Shell) Connect(node string) error {
	if _, err := s.client(); err != nil {
		return err
	}
	s.Node = node
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", node))
	return nil
}

// Disconnect clears the current node.
func (s *Shell) Disconnect() {
	if s.Node != "" {
		s.Node = ""
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Close releases the broker connection.
func (s *Shell) Close() {
	if s.Client != nil {
		s.Client.Close()
		s.Client = nil
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	defer s.Close()
	if s.AutoConnect && s.Config.Node != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Node)
		}
		if err := s.Connect(s.Config.Node); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Node, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers nodes.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			infoList, err := s.DiscoverNodes(nil)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				PrintJSON(c, infoList)
				return
			}
			if len(infoList) == 0 {
				c.Println("No nodes found")
				return
			}
			for _, info := range infoList {
				c.Println(FormatInfo(info))
			}
		},
	}

	// ConnectCmd selects a node.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[NODE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			node := ""
			if len(c.Args) > 0 {
				node = c.Args[0]
			} else {
				info, err := s.SelectNode(nil)
				if err != nil {
					c.Err(err)
					return
				}
				if info == nil {
					c.Err(fmt.Errorf("no node discovered"))
					return
				}
				node = info.ID
			}
			if err := s.Connect(node); err != nil {
				c.Err(err)
				return
			}
		},
	}

	// DisconnectCmd clears the current node.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
