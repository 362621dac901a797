// Package config carries the node level settings of an audiolink process
// and loads them together with the audio settings from flags, environment
// and an optional config file.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/spf13/viper"

	"github.com/robotalks/audiolink/pkg/audio"
	"github.com/robotalks/audiolink/pkg/link/serialport"
	"github.com/robotalks/audiolink/pkg/telemetry"
)

// SimPort selects the in-process simulated bus instead of a serial device.
const SimPort = "sim"

// Config provides the options of an audiolink node.
type Config struct {
	NodeID string `mapstructure:"id"`
	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `mapstructure:"mqtt"`
	// Port is the serial device path or SimPort.
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// MetricsAddr is the listen address of the metrics endpoint, empty to
	// disable.
	MetricsAddr   string        `mapstructure:"metrics"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	// Tone is the frequency of the tone captured when no audio input is
	// attached, 0 for silence.
	Tone int `mapstructure:"tone"`
	// File is the config file loaded by Parse.
	File string `mapstructure:"config_file"`
}

var defaultConfig = Config{
	MQTTBrokerURL: "mqtt://localhost:1883/audiolink/",
	Port:          SimPort,
	Baud:          921600,
	MetricsAddr:   ":9107",
	StatsInterval: 5 * time.Second,
	Tone:          440,
}

func init() {
	if val := os.Getenv("AUDIOLINK_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("AUDIOLINK_PORT"); val != "" {
		defaultConfig.Port = val
	}
	if val := os.Getenv("AUDIOLINK_BAUD"); val != "" {
		if _, err := fmt.Sscanf(val, "%d", &defaultConfig.Baud); err != nil {
			log.Printf("ignore AUDIOLINK_BAUD=%q: %v", val, err)
		}
	}
	if val := os.Getenv("AUDIOLINK_CONFIG"); val != "" {
		defaultConfig.File = val
	}
	defaultConfig.NodeID = os.Getenv("AUDIOLINK_NODE_ID")
	if defaultConfig.NodeID == "" {
		defaultConfig.NodeID = MachineID()
	}
}

// MachineID retrieves the unique ID identifying the machine, falling back
// to the host name.
func MachineID() string {
	id, err := machineid.ProtectedID("audiolink")
	if err == nil && len(id) > 12 {
		return id[:12]
	}
	host, _ := os.Hostname()
	return host
}

// SetupFlags sets command line flags for node and audio options.
func SetupFlags() {
	setupFlags(flag.CommandLine, &defaultConfig)
	audio.SetupFlags()
}

func setupFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.NodeID, "id", c.NodeID, "Node ID.")
	fs.StringVar(&c.MQTTBrokerURL, "mqtt", c.MQTTBrokerURL, "MQTT broker URL, empty to disable telemetry.")
	fs.StringVar(&c.Port, "port", c.Port, "Serial device, or \"sim\" for a simulated bus.")
	fs.IntVar(&c.Baud, "baud", c.Baud, "Serial baud rate.")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Line idle detection, 0 for three characters.")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Metrics listen address, empty to disable.")
	fs.DurationVar(&c.StatsInterval, "stats-interval", c.StatsInterval, "Interval of published stats.")
	fs.IntVar(&c.Tone, "tone", c.Tone, "Frequency of the captured test tone, 0 for silence.")
	fs.StringVar(&c.File, "config", c.File, "Config file (yaml, json or toml).")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Parse parses the command line and loads the config file if specified.
// Flags given explicitly on the command line win over the file.
func Parse() *Config {
	flag.Parse()
	if err := parseFile(flag.CommandLine, &defaultConfig, audio.Default()); err != nil {
		log.Fatalln(err)
	}
	return NewConfig()
}

func parseFile(fs *flag.FlagSet, conf *Config, ac *audio.Config) error {
	if conf.File == "" {
		return nil
	}
	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	if err := Load(conf.File, conf, ac); err != nil {
		return err
	}
	for name, val := range explicit {
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads a config file. Keys in section "node" are loaded into conf
// and keys in section "audio" into ac. Absent keys keep their values.
func Load(path string, conf *Config, ac *audio.Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if conf != nil {
		if err := v.UnmarshalKey("node", conf); err != nil {
			return fmt.Errorf("config %s: node: %w", path, err)
		}
	}
	if ac != nil {
		if err := v.UnmarshalKey("audio", ac); err != nil {
			return fmt.Errorf("config %s: audio: %w", path, err)
		}
	}
	return nil
}

// Simulated tells whether the node runs on the simulated bus.
func (c *Config) Simulated() bool {
	return c.Port == SimPort
}

// OpenSerial opens the serial device.
func (c *Config) OpenSerial() (*serialport.Port, error) {
	if c.Simulated() {
		return nil, fmt.Errorf("port %q is not a serial device", c.Port)
	}
	return serialport.Open(c.Port, serialport.Options{
		Baud:        c.Baud,
		IdleTimeout: c.IdleTimeout,
	})
}

// NodeInfo describes the node for discovery.
func (c *Config) NodeInfo(ac *audio.Config) telemetry.NodeInfo {
	info := telemetry.NodeInfo{
		ID:   c.NodeID,
		Port: c.Port,
		Baud: c.Baud,
	}
	if ac != nil {
		info.Format = ac.Format
		info.WireRate = ac.WireRate
		info.DeviceRate = ac.DeviceRate
		info.BufferLen = ac.BufferLen
		info.Delay = ac.Delay.String()
	}
	return info
}
