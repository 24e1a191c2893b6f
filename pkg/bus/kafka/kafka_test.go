package kafka

import (
	"testing"
	"time"

	"github.com/agent-publisher/pkg/bus"
	"github.com/agent-publisher/pkg/qos"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, Brokers("kafka://a:9092, b:9092,"))
	assert.Equal(t, []string{"localhost:9092"}, Brokers("localhost:9092"))
	assert.Empty(t, Brokers(""))
}

func TestRequiredAcks(t *testing.T) {
	assert.Equal(t, kafka.RequireNone, RequiredAcks(qos.WriterQoS{}))
	assert.Equal(t, kafka.RequireOne, RequiredAcks(qos.WriterQoS{Reliability: qos.Reliable}))
	assert.Equal(t, kafka.RequireAll, RequiredAcks(qos.WriterQoS{Reliability: qos.Reliable, Durability: qos.Persistent}))
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"a:9092"}, TopicName(2, "cpu"), qos.WriterQoS{}, time.Second)
	defer w.Close()
	assert.Equal(t, "domain2.cpu", w.Topic)
	assert.True(t, w.Async)
	assert.Equal(t, time.Second, w.WriteTimeout)

	r := NewWriter([]string{"a:9092"}, "x", qos.WriterQoS{Reliability: qos.Reliable}, time.Second)
	defer r.Close()
	assert.False(t, r.Async)
}

func TestToMessage(t *testing.T) {
	now := time.Unix(100, 0)
	m := ToMessage(bus.Message{Key: "host", TypeName: "cpu", Payload: []byte("{}"), Time: now})
	assert.Equal(t, []byte("host"), m.Key)
	assert.Equal(t, now, m.Time)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "cpu", string(m.Headers[0].Value))
	assert.Equal(t, "domain0._types", TypesTopic(0))
}
