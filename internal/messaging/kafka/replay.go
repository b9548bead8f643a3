package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReplayMessage — сообщение из DLQ, готовое к повторной публикации.
type ReplayMessage struct {
	Topic string
	Key   string
	Value []byte
	// EventType заполнен для событий outbox; по нему выбирают топик, если исходный неизвестен.
	EventType string
}

// outboxDeadLetter — payload, который outbox worker кладёт в DLQ после исчерпания попыток.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// DecodeDeadLetter восстанавливает исходное сообщение из тела DLQ.
// Понимает оба формата: DeadLetter от consumer и Envelope от outbox worker.
// ok=false означает, что сообщение не относится ни к одному формату и его нужно пропустить.
func DecodeDeadLetter(value []byte, defaultTopic string) (ReplayMessage, bool, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return ReplayMessage{Topic: topic, Key: letter.OriginalKey, Value: []byte(letter.OriginalValue)}, true, nil
	}

	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return ReplayMessage{}, false, nil
	}

	var dead outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return ReplayMessage{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return ReplayMessage{}, false, fmt.Errorf("outbox dead letter %s has no event payload", envelope.ID)
	}

	replay := Envelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return ReplayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{
		Topic:     defaultTopic,
		Key:       firstNonEmpty(replay.AggregateID, replay.ID),
		Value:     encoded,
		EventType: replay.EventType,
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
