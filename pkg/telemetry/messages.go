// Package telemetry defines what a node publishes about itself and the
// commands it accepts: node info as JSON, statistics reports and control
// commands as protobuf.
package telemetry

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/timestamp"
)

// Topic suffixes under a node.
const (
	MetaTopic    = "meta"
	StatsTopic   = "stats"
	CommandTopic = "ctl"
)

// NodeTopic returns the topic of kind under node.
func NodeTopic(node, kind string) string {
	return node + "/" + kind
}

// NodeFromTopic extracts the node from a topic built by NodeTopic.
func NodeFromTopic(topic string) string {
	if pos := strings.LastIndex(topic, "/"); pos > 0 {
		return topic[:pos]
	}
	return ""
}

// NodeInfo describes a node, published retained on its meta topic.
type NodeInfo struct {
	ID         string `json:"id"`
	Port       string `json:"port,omitempty"`
	Baud       int    `json:"baud,omitempty"`
	Format     string `json:"format,omitempty"`
	WireRate   int    `json:"wire_rate,omitempty"`
	DeviceRate int    `json:"device_rate,omitempty"`
	BufferLen  int    `json:"buffer_len,omitempty"`
	Delay      string `json:"delay,omitempty"`
}

// EncodeInfo encodes NodeInfo.
func EncodeInfo(info NodeInfo) ([]byte, error) {
	return json.Marshal(&info)
}

// DecodeInfo decodes NodeInfo, an empty payload is a node going away.
func DecodeInfo(payload []byte) (info NodeInfo, err error) {
	if len(payload) == 0 {
		return info, fmt.Errorf("empty node info")
	}
	err = json.Unmarshal(payload, &info)
	return
}

// Command is a control request sent to a node.
type Command struct {
	Op    string  `protobuf:"bytes,1,opt,name=op,proto3" json:"op,omitempty"`
	Value float64 `protobuf:"fixed64,2,opt,name=value,proto3" json:"value,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Command) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Command) Reset() { *m = Command{} }

// String implements proto.Message.
func (m *Command) String() string { return proto.CompactTextString(m) }

// Report carries a statistics snapshot of a node. Counters mirror the
// snapshot structure with snake_case names.
type Report struct {
	Node     string               `protobuf:"bytes,1,opt,name=node,proto3" json:"node,omitempty"`
	Time     *timestamp.Timestamp `protobuf:"bytes,2,opt,name=time,proto3" json:"time,omitempty"`
	Counters *structpb.Struct     `protobuf:"bytes,3,opt,name=counters,proto3" json:"counters,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Report) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Report) Reset() { *m = Report{} }

// String implements proto.Message.
func (m *Report) String() string { return proto.CompactTextString(m) }

// NewReport builds a Report from a snapshot struct.
func NewReport(node string, snapshot interface{}, at time.Time) (*Report, error) {
	ts, err := ptypes.TimestampProto(at)
	if err != nil {
		return nil, err
	}
	counters, err := structOf(reflect.ValueOf(snapshot))
	if err != nil {
		return nil, err
	}
	return &Report{Node: node, Time: ts, Counters: counters}, nil
}

// Timestamp returns the time the report was taken.
func (m *Report) Timestamp() time.Time {
	t, err := ptypes.Timestamp(m.Time)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Lookup finds a value by a dotted path, e.g. "jitter.level".
func (m *Report) Lookup(path string) (*structpb.Value, bool) {
	s := m.Counters
	keys := strings.Split(path, ".")
	for n, key := range keys {
		if s == nil {
			return nil, false
		}
		v, ok := s.Fields[key]
		if !ok {
			return nil, false
		}
		if n == len(keys)-1 {
			return v, true
		}
		s = v.GetStructValue()
	}
	return nil, false
}

// Number returns a numeric counter by dotted path, 0 if missing.
func (m *Report) Number(path string) float64 {
	if v, ok := m.Lookup(path); ok {
		return v.GetNumberValue()
	}
	return 0
}

// Encode serializes a Command or a Report.
func Encode(msg proto.Message) ([]byte, error) {
	return proto.Marshal(msg)
}

// DecodeReport parses a Report.
func DecodeReport(payload []byte) (*Report, error) {
	r := &Report{}
	if err := proto.Unmarshal(payload, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeCommand parses a Command.
func DecodeCommand(payload []byte) (*Command, error) {
	c := &Command{}
	if err := proto.Unmarshal(payload, c); err != nil {
		return nil, err
	}
	if c.Op == "" {
		return nil, fmt.Errorf("command without operation")
	}
	return c, nil
}

// SnakeCase converts a Go field name into the counter name.
func SnakeCase(name string) string {
	var sb strings.Builder
	runes := []rune(name)
	for n, r := range runes {
		if unicode.IsUpper(r) {
			if n > 0 && (unicode.IsLower(runes[n-1]) ||
				(n+1 < len(runes) && unicode.IsLower(runes[n+1]))) {
				sb.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func structOf(v reflect.Value) (*structpb.Struct, error) {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("snapshot must be a struct, not %v", v.Kind())
	}
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value)}
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.PkgPath != "" {
			continue
		}
		val, err := valueOf(v.Field(i))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		s.Fields[SnakeCase(f.Name)] = val
	}
	return s, nil
}

func valueOf(v reflect.Value) (*structpb.Value, error) {
	switch v.Kind() {
	case reflect.Bool:
		return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: v.Bool()}}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return numberValue(float64(v.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return numberValue(float64(v.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return numberValue(v.Float()), nil
	case reflect.String:
		return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v.String()}}, nil
	case reflect.Struct, reflect.Ptr:
		s, err := structOf(v)
		if err != nil {
			return nil, err
		}
		return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: s}}, nil
	}
	return nil, fmt.Errorf("unsupported kind %v", v.Kind())
}

func numberValue(f float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: f}}
}
