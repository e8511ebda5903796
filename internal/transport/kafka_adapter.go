package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/metrics"
)

const kafkaAdapterChanSize = 100

var (
	ErrKafkaProducerCreate  = errors.New("failed to create Kafka producer")
	ErrKafkaPublishFailed   = errors.New("kafka publish failed")
	ErrKafkaSubscribeFailed = errors.New("kafka subscribe failed")
)

// KafkaTransport publishes status frames to a topic and reads them back
// through a consumer group.
type KafkaTransport struct {
	producer *KafkaProducer
	consumer *KafkaConsumer
	logger   *zap.Logger
	closed   atomic.Bool

	published int64
	consumed  int64
	errors    int64
}

// NewKafkaTransport prepares the sides selected by role. The producer
// connects immediately; the consumer group is joined on Subscribe.
func NewKafkaTransport(cfg KafkaConfig, role Role, logger *zap.Logger) (*KafkaTransport, error) {
	logger.Debug("creating Kafka transport",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("consumer_group", cfg.ConsumerGroup),
	)

	t := &KafkaTransport{logger: logger}

	if role.publishes() {
		producer, err := NewKafkaProducer(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKafkaProducerCreate, err)
		}

		t.producer = producer
	}

	if role.subscribes() {
		t.consumer = NewKafkaConsumer(cfg, logger)
	}

	return t, nil
}

func (t *KafkaTransport) Send(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		atomic.AddInt64(&t.errors, 1)

		return ErrTransportClosed
	}

	if t.producer == nil {
		return ErrNotPublisher
	}

	if err := t.producer.Publish(ctx, payload); err != nil {
		atomic.AddInt64(&t.errors, 1)
		metrics.TransportMessagesTotal.WithLabelValues("kafka", "out", "error").Inc()

		return fmt.Errorf("%w: %w", ErrKafkaPublishFailed, err)
	}

	atomic.AddInt64(&t.published, 1)
	metrics.TransportMessagesTotal.WithLabelValues("kafka", "out", "ok").Inc()

	return nil
}

func (t *KafkaTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	if t.consumer == nil {
		return nil, fmt.Errorf("%w: transport was not opened for subscribing", ErrKafkaSubscribeFailed)
	}

	frames, err := t.consumer.Subscribe(ctx)
	if err != nil {
		atomic.AddInt64(&t.errors, 1)

		return nil, fmt.Errorf("%w: %w", ErrKafkaSubscribeFailed, err)
	}

	counted := make(chan []byte, kafkaAdapterChanSize)

	go func() {
		defer close(counted)

		for frame := range frames {
			atomic.AddInt64(&t.consumed, 1)
			metrics.TransportMessagesTotal.WithLabelValues("kafka", "in", "ok").Inc()

			select {
			case counted <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return counted, nil
}

func (t *KafkaTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if t.producer != nil {
		if err := t.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if t.consumer != nil {
		if err := t.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (t *KafkaTransport) Stats() Stats {
	return Stats{
		TotalSent:     atomic.LoadInt64(&t.published),
		TotalReceived: atomic.LoadInt64(&t.consumed),
		Errors:        atomic.LoadInt64(&t.errors),
	}
}
