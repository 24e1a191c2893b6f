package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agent-publisher/pkg/schema"
)

// Envelope 记录在总线上的 JSON 形式
type Envelope struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Domain    int       `json:"domain"`
	Session   string    `json:"session"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Fields    Fields    `json:"fields"`
}

// FieldValue 一个字段
type FieldValue struct {
	Name  string
	Value any
}

// Fields 保持 schema 顺序的字段列表，编码为 JSON 对象
type Fields []FieldValue

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fv := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fv.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(fv.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fv.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}
	out := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, FieldValue{Name: name, Value: v})
	}
	*f = out
	return nil
}

// Get 按名字取字段值
func (f Fields) Get(name string) (any, bool) {
	for _, fv := range f {
		if fv.Name == name {
			return fv.Value, true
		}
	}
	return nil, false
}

// NewEnvelope 按记录的字段顺序构造
func NewEnvelope(rec *schema.Record, topic string, domain int, session string, seq uint64, ts time.Time) Envelope {
	fields := make(Fields, 0, rec.Schema().Len())
	rec.Each(func(name string, v any) {
		fields = append(fields, FieldValue{Name: name, Value: v})
	})
	return Envelope{
		Type:      rec.Schema().Name(),
		Topic:     topic,
		Domain:    domain,
		Session:   session,
		Seq:       seq,
		Timestamp: ts.UTC(),
		Fields:    fields,
	}
}

// DecodeEnvelope 订阅端解码
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// RecordKey key 字段值按顺序以 '/' 连接，用于分区
func RecordKey(rec *schema.Record) string {
	var parts []string
	for _, f := range rec.Schema().Fields() {
		if !f.Key {
			continue
		}
		v, _ := rec.Get(f.Name)
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "/")
}

// TypeDescriptor 类型登记时发布的描述
type TypeDescriptor struct {
	Name   string            `json:"name"`
	Fields []FieldDescriptor `json:"fields"`
}

type FieldDescriptor struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	MaxLength int    `json:"max_length,omitempty"`
	Key       bool   `json:"key,omitempty"`
}

// Describe 生成类型描述 JSON
func Describe(s *schema.RecordSchema) []byte {
	d := TypeDescriptor{Name: s.Name(), Fields: []FieldDescriptor{}}
	for _, f := range s.Fields() {
		d.Fields = append(d.Fields, FieldDescriptor{Name: f.Name, Kind: f.Kind.String(), MaxLength: f.MaxLength, Key: f.Key})
	}
	b, _ := json.Marshal(d)
	return b
}
