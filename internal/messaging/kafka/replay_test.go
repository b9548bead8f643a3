package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDeadLetter_ConsumerFormat(t *testing.T) {
	raw, err := json.Marshal(DeadLetter{
		OriginalTopic: TopicOrderEvents,
		OriginalKey:   "order-1",
		OriginalValue: `{"id":"evt-1"}`,
		ErrorMessage:  "handler failed",
	})
	require.NoError(t, err)

	got, ok, err := DecodeDeadLetter(raw, "fallback")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TopicOrderEvents, got.Topic)
	assert.Equal(t, "order-1", got.Key)
	assert.JSONEq(t, `{"id":"evt-1"}`, string(got.Value))
}

func TestDecodeDeadLetter_ConsumerFormatWithoutTopic(t *testing.T) {
	raw := []byte(`{"original_key":"k","original_value":"{}"}`)

	got, ok, err := DecodeDeadLetter(raw, "fallback")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fallback", got.Topic)
}

func TestDecodeDeadLetter_OutboxFormat(t *testing.T) {
	raw := []byte(`{
		"id": "outbox-1",
		"aggregate_type": "order",
		"aggregate_id": "order-9",
		"event_type": "OrderPlaced",
		"payload": {
			"outbox_id": "outbox-1",
			"aggregate_id": "order-9",
			"event_type": "OrderPlaced",
			"payload": {"order_id": "order-9", "total": "10.00"},
			"publish_error": "broker down"
		}
	}`)

	got, ok, err := DecodeDeadLetter(raw, TopicOrderEvents)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TopicOrderEvents, got.Topic)
	assert.Equal(t, "order-9", got.Key)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(got.Value, &envelope))
	assert.Equal(t, "outbox-1", envelope.ID)
	assert.Equal(t, "order", envelope.AggregateType)
	assert.Equal(t, "OrderPlaced", envelope.EventType)
	assert.JSONEq(t, `{"order_id": "order-9", "total": "10.00"}`, string(envelope.Payload))
	assert.False(t, envelope.PublishedAt.IsZero())
}

func TestDecodeDeadLetter_Unsupported(t *testing.T) {
	_, ok, err := DecodeDeadLetter([]byte(`not json`), TopicOrderEvents)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = DecodeDeadLetter([]byte(`{"id":"x","payload":{"outbox_id":"x"}}`), TopicOrderEvents)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestProducer_PublishRaw(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		assert.Equal(t, `{"raw":true}`, string(value))
		return nil
	})

	require.NoError(t, producer.PublishRaw(TopicOrderEvents, "k", []byte(`{"raw":true}`)))
	require.NoError(t, mockProducer.Close())
}
