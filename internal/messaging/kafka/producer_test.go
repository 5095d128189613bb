package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

func TestProducer_PublishEventEncodesJSON(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(sp, nil)
	sentAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	producer.now = func() time.Time { return sentAt }

	envelope := NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderCreated,
	}, sentAt)

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.Equal(t, TopicOrderEvents, msg.Topic)
		require.Equal(t, sentAt, msg.Timestamp)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "order-123", string(key))
		require.Len(t, msg.Headers, 1)
		return nil
	})
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		return json.Unmarshal(value, &map[string]any{})
	})

	header := sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(envelope.EventType)}
	require.NoError(t, producer.PublishEvent(TopicOrderEvents, envelope.Key(), envelope, header))
	require.NoError(t, producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"k": "v"}))
	require.NoError(t, producer.Close())
}

func TestProducer_PublishEventErrors(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(sp, nil)

	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"k": "v"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.ErrorContains(t, err, TopicOrderEvents)

	// канал не кодируется в JSON, до брокера дело не доходит
	require.ErrorContains(t, producer.PublishEvent(TopicOrderEvents, "k", make(chan int)), "encode event")
	require.NoError(t, sp.Close())
}

func TestProducerConfig(t *testing.T) {
	cfg, err := producerConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultClientID, cfg.ClientID)
	require.True(t, cfg.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.Equal(t, 1, cfg.Net.MaxOpenRequests)

	cfg, err = producerConfig("flashsale-dlq-replay")
	require.NoError(t, err)
	require.Equal(t, "flashsale-dlq-replay", cfg.ClientID)

	_, err = NewProducer(nil, "")
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestNewEnvelope_UnknownEvent(t *testing.T) {
	envelope := NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-9",
		AggregateType: domain.AggregateCoupon,
		EventType:     "SomethingElse",
	}, time.Now())

	require.Equal(t, EventTypeUnknown, envelope.EventType)
	require.JSONEq(t, "{}", string(envelope.Payload))
	require.Equal(t, "outbox-9", envelope.Key())
	require.Equal(t, TopicCouponEvents, TopicFor(domain.AggregateCoupon))
	require.Equal(t, TopicOrderEvents, TopicFor(domain.AggregateOrder))
}
