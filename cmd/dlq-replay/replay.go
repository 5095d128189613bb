package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
)

// topicReader даёт ограниченное чтение партиций DLQ-топика.
type topicReader interface {
	Partitions(topic string) ([]int32, error)
	// Bounds возвращает [oldest, newest): newest указывает на следующее ещё не записанное сообщение.
	Bounds(topic string, partition int32) (oldest, newest int64, err error)
	Open(topic string, partition int32, offset int64) (stream, error)
}

type stream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type saramaReader struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func (s saramaReader) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s saramaReader) Bounds(topic string, partition int32) (int64, int64, error) {
	oldest, err := s.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset: %w", err)
	}
	newest, err := s.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset: %w", err)
	}
	return oldest, newest, nil
}

func (s saramaReader) Open(topic string, partition int32, offset int64) (stream, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// session владеет соединениями с Kafka; publisher пуст в dry-run.
type session struct {
	reader    topicReader
	publisher domain.OutboxPublisher
	closers   []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

var connect = func(cfg config) (*session, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.clientID
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	sess := &session{closers: []func() error{client.Close}}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	sess.closers = append(sess.closers, consumer.Close)
	sess.reader = saramaReader{client: client, consumer: consumer}

	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers, cfg.clientID)
		if err != nil {
			sess.Close()
			return nil, err
		}
		sess.closers = append(sess.closers, producer.Close)
		sess.publisher = kafka.NewOutboxPublisher(producer, cfg.targetTopic)
	}
	return sess, nil
}

type tally struct {
	scanned  int
	replayed int
	listed   int
	skipped  int
}

func (t tally) plus(o tally) tally {
	return tally{
		scanned:  t.scanned + o.scanned,
		replayed: t.replayed + o.replayed,
		listed:   t.listed + o.listed,
		skipped:  t.skipped + o.skipped,
	}
}

type outcome int

const (
	outcomeReplayed outcome = iota
	outcomeListed
	outcomeSkipped
)

type replayer struct {
	cfg       config
	reader    topicReader
	publisher domain.OutboxPublisher
	logger    *log.Entry
}

func newReplayer(cfg config, reader topicReader, publisher domain.OutboxPublisher, logger *log.Entry) *replayer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &replayer{cfg: cfg, reader: reader, publisher: publisher, logger: logger}
}

// Run обходит партиции по возрастанию номера, пока не исчерпан общий лимит.
func (r *replayer) Run(ctx context.Context) (tally, error) {
	var total tally
	if r.reader == nil {
		return total, errors.New("topic reader is required")
	}
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.reader.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.Warn("dlq topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		part, err := r.replayPartition(ctx, partition, budget)
		total = total.plus(part)
		if err != nil {
			return total, fmt.Errorf("partition %d: %w", partition, err)
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"listed":   total.listed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (tally, error) {
	var t tally

	oldest, newest, err := r.reader.Bounds(r.cfg.sourceTopic, partition)
	if err != nil {
		return t, err
	}
	if newest <= oldest {
		return t, nil
	}
	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(budget), oldest)
	}

	s, err := r.reader.Open(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return t, fmt.Errorf("open at offset %d: %w", start, err)
	}
	defer func() { _ = s.Close() }()

	for t.scanned < budget {
		msg, err := next(ctx, s, r.cfg.idleTimeout)
		if err != nil || msg == nil || msg.Offset >= newest {
			return t, err
		}
		t.scanned++

		result, err := r.handle(msg)
		if err != nil {
			return t, err
		}
		switch result {
		case outcomeReplayed:
			t.replayed++
		case outcomeListed:
			t.listed++
		case outcomeSkipped:
			t.skipped++
		}

		if msg.Offset+1 >= newest {
			break
		}
	}
	return t, nil
}

// next ждёт следующее сообщение партиции. nil без ошибки: поток закрыт или молчит дольше idle.
func next(ctx context.Context, s stream, idle time.Duration) (*sarama.ConsumerMessage, error) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	errs := s.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case consumeErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if consumeErr != nil {
				return nil, fmt.Errorf("consumer error: %w", consumeErr)
			}
		case msg, ok := <-s.Messages():
			if !ok {
				return nil, nil
			}
			if msg != nil {
				return msg, nil
			}
		}
	}
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) (outcome, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	letter, err := kafka.DecodeDeadLetter(msg.Value)
	if err != nil {
		entry.WithError(err).Warn("skip unreadable dead letter")
		return outcomeSkipped, nil
	}
	if !r.wants(letter) {
		return outcomeSkipped, nil
	}

	entry = entry.WithFields(log.Fields{
		"outbox_id":     letter.OutboxID,
		"aggregate":     letter.AggregateType,
		"event_type":    letter.EventType,
		"publish_error": letter.PublishError,
	})
	if !r.cfg.execute {
		entry.Info("would replay dead letter")
		return outcomeListed, nil
	}
	if err := r.publisher.Publish(letter.OutboxMessage()); err != nil {
		return outcomeSkipped, fmt.Errorf("republish %s: %w", letter.OutboxID, err)
	}
	entry.Info("dead letter replayed")
	return outcomeReplayed, nil
}

func (r *replayer) wants(letter kafka.DeadLetter) bool {
	if r.cfg.eventType != "" && letter.EventType != r.cfg.eventType {
		return false
	}
	return r.cfg.aggregate == "" || letter.AggregateType == r.cfg.aggregate
}
