package mqtt

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/telemetry"
)

// DefaultStatsInterval is how often a Node publishes statistics.
const DefaultStatsInterval = 5 * time.Second

// StatsOp requests an immediate stats report.
const StatsOp = "stats"

// StatsFunc takes a statistics snapshot.
type StatsFunc func() interface{}

// CommandFunc executes a received command.
type CommandFunc func(*telemetry.Command) error

// Node publishes the info and statistics of a node and receives its
// commands.
type Node struct {
	Queue     *Queue
	Info      telemetry.NodeInfo
	Interval  time.Duration
	Stats     StatsFunc
	OnCommand CommandFunc

	infoJSON []byte
}

// NewNode creates a Node. The broker keeps the node info retained while
// the node is connected.
func NewNode(brokerURL string, info telemetry.NodeInfo) (*Node, error) {
	infoJSON, err := telemetry.EncodeInfo(info)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+telemetry.NodeTopic(info.ID, telemetry.MetaTopic), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("audiolink:" + info.ID)
	}
	n := &Node{
		Queue:    NewQueue(opts, topicPrefix),
		Info:     info,
		Interval: DefaultStatsInterval,
		infoJSON: infoJSON,
	}
	n.Queue.OnConnect = func(*Queue) { n.publishInfo() }
	n.Queue.Sub(telemetry.NodeTopic(info.ID, telemetry.CommandTopic), n.handleCommand)
	return n, nil
}

// Name implements fx.Named.
func (n *Node) Name() string {
	return "telemetry"
}

// Run implements fx.Runnable.
func (n *Node) Run(ctx context.Context) error {
	token := n.Queue.Connect()
	interval := n.Interval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.Queue.PubWith(telemetry.NodeTopic(n.Info.ID, telemetry.MetaTopic), nil, 1, true)
			n.Queue.Close()
			return ctx.Err()
		case now := <-ticker.C:
			if n.Queue.Client.IsConnected() {
				n.PublishStats(now)
			} else if token.WaitTimeout(0) {
				// paho does not retry a failed initial connection.
				glog.Warningf("telemetry: broker unavailable: %v", token.Error())
				token = n.Queue.Connect()
			}
		}
	}
}

// PublishStats publishes a statistics report.
func (n *Node) PublishStats(now time.Time) {
	if n.Stats == nil {
		return
	}
	report, err := telemetry.NewReport(n.Info.ID, n.Stats(), now)
	if err == nil {
		err = n.Queue.PubMsg(telemetry.NodeTopic(n.Info.ID, telemetry.StatsTopic), report)
	}
	if err != nil {
		glog.Errorf("telemetry: publish stats: %v", err)
	}
}

func (n *Node) publishInfo() {
	n.Queue.PubWith(telemetry.NodeTopic(n.Info.ID, telemetry.MetaTopic), n.infoJSON, 1, true)
}

func (n *Node) handleCommand(topic string, payload []byte) {
	cmd, err := telemetry.DecodeCommand(payload)
	if err != nil {
		glog.Warningf("telemetry: invalid command on %s: %v", topic, err)
		return
	}
	glog.Infof("telemetry: command %s %v", cmd.Op, cmd.Value)
	if cmd.Op == StatsOp {
		n.PublishStats(time.Now())
		return
	}
	if n.OnCommand == nil {
		return
	}
	if err := n.OnCommand(cmd); err != nil {
		glog.Warningf("telemetry: command %s: %v", cmd.Op, err)
	}
}
