package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

// EventType определяет тип события во внешней шине.
type EventType string

const (
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderPaid      EventType = "order.paid"
	EventTypeOrderShipped   EventType = "order.shipped"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeCouponGranted  EventType = "coupon.granted"
	EventTypeUnknown        EventType = "unknown"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "flashsale.order.events"
	TopicCouponEvents    = "flashsale.coupon.events"
	TopicDeadLetterQueue = "flashsale.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
)

var domainEventTypes = map[string]EventType{
	domain.EventOrderCreated:   EventTypeOrderCreated,
	domain.EventOrderPaid:      EventTypeOrderPaid,
	domain.EventOrderShipped:   EventTypeOrderShipped,
	domain.EventOrderCancelled: EventTypeOrderCancelled,
	domain.EventCouponGranted:  EventTypeCouponGranted,
}

// EventTypeFor переводит имя доменного события в тип события шины.
func EventTypeFor(domainEvent string) EventType {
	if eventType, ok := domainEventTypes[domainEvent]; ok {
		return eventType
	}
	return EventTypeUnknown
}

// TopicFor выбирает topic по типу агрегата outbox-сообщения.
func TopicFor(aggregateType string) string {
	if aggregateType == domain.AggregateCoupon {
		return TopicCouponEvents
	}
	return TopicOrderEvents
}

// Envelope: формат сообщения, публикуемого из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	DomainEvent   string          `json:"domain_event"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope собирает конверт из outbox-сообщения.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     EventTypeFor(msg.EventType),
		DomainEvent:   msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// Key возвращает ключ партиционирования: события одного агрегата попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// DeadLetter: полезная нагрузка сообщения в DLQ после исчерпания попыток публикации.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// OutboxMessage восстанавливает исходное outbox-сообщение из DLQ-записи.
func (d DeadLetter) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       d.Payload,
	}
}

// ErrEmptyDeadLetter возвращается, если DLQ-запись не содержит исходного payload.
var ErrEmptyDeadLetter = errors.New("dead letter does not contain original event payload")

// DecodeDeadLetter разбирает сообщение DLQ-топика: конверт outbox, в payload которого лежит DeadLetter.
// Пустые поля DeadLetter дополняются из конверта.
func DecodeDeadLetter(raw []byte) (DeadLetter, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dlq envelope: %w", err)
	}

	var letter DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return DeadLetter{}, ErrEmptyDeadLetter
	}

	if letter.OutboxID == "" {
		letter.OutboxID = envelope.ID
	}
	if letter.AggregateType == "" {
		letter.AggregateType = envelope.AggregateType
	}
	if letter.AggregateID == "" {
		letter.AggregateID = envelope.AggregateID
	}
	if letter.EventType == "" {
		letter.EventType = envelope.DomainEvent
	}
	return letter, nil
}
