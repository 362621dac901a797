// Package mqtt carries telemetry over an MQTT broker. The broker URL
// selects the server and a topic prefix, e.g. mqtt://host:1883/audiolink/.
package mqtt

import (
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
)

// Handler is the callback when a message is received, topic has the
// prefix removed.
type Handler func(topic string, payload []byte)

// ConnectHandler is to handle connect/disconnect events.
type ConnectHandler func(*Queue)

// Queue wraps an MQTT client, all topics are relative to TopicPrefix.
type Queue struct {
	Client       paho.Client
	TopicPrefix  string
	OnConnect    ConnectHandler
	OnDisconnect ConnectHandler

	subsLock sync.RWMutex
	subs     map[string][]*Subscription
}

// Subscription is a subscribed topic filter.
type Subscription struct {
	Token paho.Token

	queue   *Queue
	filter  string
	handler Handler
}

// MatchTopic matches topic with an MQTT filter.
func MatchTopic(topic, filter string) bool {
	tokensT, tokensF := strings.Split(topic, "/"), strings.Split(filter, "/")
	for i, token := range tokensF {
		if token == "#" && i+1 == len(tokensF) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensF) == len(tokensT)
}

// ClientOptionsFromURL creates ClientOptions from URL.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	server := u.Scheme
	if server == "" || server == "mqtt" {
		server = "tcp"
	}
	server += "://" + u.Host

	topicPrefix := strings.TrimPrefix(u.Path, "/")
	if topicPrefix != "" && !strings.HasSuffix(topicPrefix, "/") {
		topicPrefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(server).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, topicPrefix, nil
}

// NewQueue creates Queue.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix, subs: make(map[string][]*Subscription)}
	options.SetOnConnectHandler(q.onConnect)
	options.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates Queue from URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

// Connect connects the client.
func (q *Queue) Connect() paho.Token {
	return q.Client.Connect()
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Sub subscribes a topic filter.
func (q *Queue) Sub(filter string, handler Handler) *Subscription {
	sub := &Subscription{queue: q, filter: filter, handler: handler}
	q.subsLock.Lock()
	subs := q.subs[filter]
	q.subs[filter] = append(subs, sub)
	q.subsLock.Unlock()

	if len(subs) == 0 {
		glog.V(2).Infof("SUB %q", q.TopicPrefix+filter)
		sub.Token = q.Client.Subscribe(q.TopicPrefix+filter, 0, q.dispatch)
	} else {
		sub.Token = &paho.DummyToken{}
	}
	return sub
}

// Pub publishes to a topic.
func (q *Queue) Pub(topic string, payload []byte) paho.Token {
	return q.PubWith(topic, payload, 0, false)
}

// PubWith publishes with QoS and retain settings.
func (q *Queue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, qos, retain, payload)
}

// PubMsg publishes a protobuf message.
func (q *Queue) PubMsg(topic string, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	q.Pub(topic, payload)
	return nil
}

func (q *Queue) resubscribe() {
	filters := make(map[string]byte)
	q.subsLock.RLock()
	for filter := range q.subs {
		filters[q.TopicPrefix+filter] = 0
	}
	q.subsLock.RUnlock()
	if len(filters) > 0 {
		glog.V(2).Infof("SUB %d filters", len(filters))
		q.Client.SubscribeMultiple(filters, q.dispatch)
	}
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("mqtt: connected")
	q.resubscribe()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

func (q *Queue) onConnectionLost(c paho.Client, err error) {
	glog.Warningf("mqtt: connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q)
	}
}

func (q *Queue) dispatch(c paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(3).Infof("RCV %q", topic)
	var handlers []Handler
	q.subsLock.RLock()
	for filter, subs := range q.subs {
		if MatchTopic(topic, filter) {
			for _, sub := range subs {
				handlers = append(handlers, sub.handler)
			}
		}
	}
	q.subsLock.RUnlock()
	payload := msg.Payload()
	for _, h := range handlers {
		h(topic, payload)
	}
}

// Close unsubscribes the handler.
func (s *Subscription) Close() error {
	q := s.queue
	q.subsLock.Lock()
	subs := q.subs[s.filter]
	for n, sub := range subs {
		if sub == s {
			subs = append(subs[:n], subs[n+1:]...)
			break
		}
	}
	unsub := len(subs) == 0
	if unsub {
		delete(q.subs, s.filter)
	} else {
		q.subs[s.filter] = subs
	}
	q.subsLock.Unlock()
	if !unsub {
		return nil
	}
	glog.V(2).Infof("UNSUB %q", s.filter)
	token := q.Client.Unsubscribe(q.TopicPrefix + s.filter)
	token.Wait()
	return token.Error()
}
