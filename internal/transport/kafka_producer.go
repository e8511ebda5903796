package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	key      string
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, getKafkaProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaProducer{
		producer: producer,
		topic:    cfg.Topic,
		key:      cfg.Key,
	}, nil
}

// Publish sends one frame and waits for the broker acknowledgment.
func (p *KafkaProducer) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("pipe"),
				Value: []byte(p.key),
			},
			{
				Key:   []byte("message_id"),
				Value: []byte(uuid.NewString()),
			},
		},
	}

	if p.key != "" {
		kafkaMsg.Key = sarama.StringEncoder(p.key)
	}

	if _, _, err := p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}

	return nil
}
