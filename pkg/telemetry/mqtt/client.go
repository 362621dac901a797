package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/telemetry"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Client observes and controls nodes.
type Client struct {
	Queue           *Queue
	DiscoverTimeout time.Duration
}

// NewClient creates a Client.
func NewClient(brokerURL string) (*Client, error) {
	q, err := NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return &Client{Queue: q, DiscoverTimeout: DefaultDiscoverTimeout}, nil
}

// Connect connects to the broker.
func (c *Client) Connect(ctx context.Context) error {
	token := c.Queue.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects.
func (c *Client) Close() error {
	return c.Queue.Close()
}

// Discover collects the retained info of all nodes.
func (c *Client) Discover(ctx context.Context) ([]telemetry.NodeInfo, error) {
	var lock sync.Mutex
	found := make(map[string]telemetry.NodeInfo)
	sub := c.Queue.Sub(telemetry.NodeTopic("+", telemetry.MetaTopic), func(topic string, payload []byte) {
		info, err := telemetry.DecodeInfo(payload)
		if err != nil {
			return
		}
		lock.Lock()
		found[telemetry.NodeFromTopic(topic)] = info
		lock.Unlock()
	})
	defer sub.Close()

	dur := c.DiscoverTimeout
	if dur <= 0 {
		dur = DefaultDiscoverTimeout
	}
	select {
	case <-time.After(dur):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lock.Lock()
	defer lock.Unlock()
	res := make([]telemetry.NodeInfo, 0, len(found))
	for _, info := range found {
		res = append(res, info)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// WatchStats calls fn with every report of node, "+" watches all nodes.
func (c *Client) WatchStats(node string, fn func(*telemetry.Report)) *Subscription {
	return c.Queue.Sub(telemetry.NodeTopic(node, telemetry.StatsTopic), func(topic string, payload []byte) {
		report, err := telemetry.DecodeReport(payload)
		if err != nil {
			glog.Warningf("telemetry: invalid report on %s: %v", topic, err)
			return
		}
		fn(report)
	})
}

// Send sends a command to node.
func (c *Client) Send(ctx context.Context, node, op string, value float64) error {
	if node == "" {
		return fmt.Errorf("no node selected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := telemetry.Encode(&telemetry.Command{Op: op, Value: value})
	if err != nil {
		return err
	}
	token := c.Queue.PubWith(telemetry.NodeTopic(node, telemetry.CommandTopic), payload, 1, false)
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("send %s to %s: timeout", op, node)
	}
	return token.Error()
}
