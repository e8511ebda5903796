package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	kafkaConsumerChanSize = 100
	kafkaConsumeBackoff   = time.Second
)

var ErrKafkaAlreadySubscribed = errors.New("kafka consumer already subscribed")

type consumerGroupFactory func(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)

// KafkaConsumer reads frames through a consumer group. The group is joined
// on the first Subscribe.
type KafkaConsumer struct {
	cfg      KafkaConfig
	logger   *zap.Logger
	newGroup consumerGroupFactory

	mu            sync.Mutex
	consumerGroup sarama.ConsumerGroup
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

type kafkaConsumerHandler struct {
	frames chan []byte
	ready  chan struct{}
	once   *sync.Once
}

func NewKafkaConsumer(cfg KafkaConfig, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, logger: logger, newGroup: sarama.NewConsumerGroup}
}

// Subscribe joins the consumer group and returns once partitions have been
// assigned, ctx is done, or joining fails.
func (c *KafkaConsumer) Subscribe(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumerGroup != nil {
		return nil, ErrKafkaAlreadySubscribed
	}

	group, err := c.newGroup(c.cfg.Brokers, c.cfg.ConsumerGroup, getKafkaConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	c.consumerGroup = group
	c.cancel = cancel

	handler := &kafkaConsumerHandler{
		frames: make(chan []byte, kafkaConsumerChanSize),
		ready:  make(chan struct{}),
		once:   &sync.Once{},
	}

	failed := make(chan error, 1)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer close(handler.frames)

		for {
			// Consume returns on every rebalance; the group reconnects on its own.
			err := group.Consume(consumeCtx, []string{c.cfg.Topic}, handler)
			if consumeCtx.Err() != nil {
				return
			}

			if err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}

				c.logger.Warn("error from consumer", zap.Error(err))

				select {
				case failed <- err:
				default:
				}

				select {
				case <-time.After(kafkaConsumeBackoff):
				case <-consumeCtx.Done():
					return
				}
			}
		}
	}()

	select {
	case <-handler.ready:
		return handler.frames, nil
	case err := <-failed:
		if cerr := c.leave(); cerr != nil {
			c.logger.Warn("failed to release consumer group", zap.Error(cerr))
		}

		return nil, fmt.Errorf("failed to join consumer group: %w", err)
	case <-ctx.Done():
		if cerr := c.leave(); cerr != nil {
			c.logger.Warn("failed to release consumer group", zap.Error(cerr))
		}

		return nil, ctx.Err()
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.leave()
}

// leave stops the consume loop and closes the group so Subscribe can be
// called again. c.mu must be held.
func (c *KafkaConsumer) leave() error {
	if c.consumerGroup == nil {
		return nil
	}

	c.cancel()

	err := c.consumerGroup.Close()

	c.wg.Wait()

	c.consumerGroup = nil
	c.cancel = nil

	if err != nil {
		return fmt.Errorf("failed to close Kafka consumer group: %w", err)
	}

	return nil
}

// Setup is part of sarama.ConsumerGroupHandler.
func (h *kafkaConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })

	return nil
}

func (h *kafkaConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *kafkaConsumerHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			select {
			case h.frames <- message.Value:
				session.MarkMessage(message, "")
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			return nil
		}
	}
}
