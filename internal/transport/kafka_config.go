package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

const (
	// Timeouts configuration.
	kafkaProducerTimeout = 10 * time.Second
	kafkaNetDialTimeout  = 10 * time.Second
	kafkaNetReadTimeout  = 10 * time.Second
	kafkaNetWriteTimeout = 10 * time.Second

	// Consumer configuration.
	kafkaSessionTimeout    = 20 * time.Second
	kafkaHeartbeatInterval = 6 * time.Second
	kafkaFetchDefaultSize  = 1024 * 1024 // 1MB.

	kafkaProducerRetryMax = 5
	kafkaDefaultTopic     = "pipe-status"
)

var ErrInvalidKafkaAddress = errors.New("invalid kafka address")

// KafkaConfig describes where status frames live in Kafka.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// Key is attached to every produced record so one pipe's reports stay
	// on one partition.
	Key string
}

// parseKafkaTarget splits "b1:9092,b2:9092/topic" into brokers and topic.
// The topic defaults to pipe-status.
func parseKafkaTarget(target string) ([]string, string, error) {
	hosts, topic, _ := strings.Cut(target, "/")
	topic = strings.Trim(topic, "/")

	if topic == "" {
		topic = kafkaDefaultTopic
	}

	var brokers []string

	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			brokers = append(brokers, h)
		}
	}

	if len(brokers) == 0 {
		return nil, "", fmt.Errorf("%w: no brokers in %q", ErrInvalidKafkaAddress, target)
	}

	return brokers, topic, nil
}

// getKafkaProducerConfig returns configuration for Producer.
func getKafkaProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_5_0_0

	// Idempotent producer settings.
	config.Producer.Idempotent = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaProducerRetryMax
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Required for idempotency.
	config.Net.MaxOpenRequests = 1

	config.Producer.Timeout = kafkaProducerTimeout
	config.Net.DialTimeout = kafkaNetDialTimeout
	config.Net.ReadTimeout = kafkaNetReadTimeout
	config.Net.WriteTimeout = kafkaNetWriteTimeout

	config.Producer.Compression = sarama.CompressionSnappy

	return config
}

// getKafkaConsumerConfig returns configuration for Consumer.
func getKafkaConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_5_0_0

	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second

	config.Consumer.Group.Session.Timeout = kafkaSessionTimeout
	config.Consumer.Group.Heartbeat.Interval = kafkaHeartbeatInterval

	config.Consumer.MaxProcessingTime = 1 * time.Minute
	config.Consumer.Fetch.Default = kafkaFetchDefaultSize

	return config
}
