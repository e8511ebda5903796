package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBrokerDown = errors.New("broker down")

type fakeConsumerGroup struct {
	sarama.ConsumerGroup

	consume func(ctx context.Context, handler sarama.ConsumerGroupHandler) error
	closed  atomic.Int32
}

func (g *fakeConsumerGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	return g.consume(ctx, handler)
}

func (g *fakeConsumerGroup) Close() error {
	g.closed.Add(1)

	return nil
}

func newFakeConsumer(groups ...*fakeConsumerGroup) (*KafkaConsumer, *atomic.Int32) {
	var created atomic.Int32

	c := NewKafkaConsumer(KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "pipe-status",
		ConsumerGroup: "test",
	}, zap.NewNop())

	c.newGroup = func([]string, string, *sarama.Config) (sarama.ConsumerGroup, error) {
		n := created.Add(1)

		return groups[min(int(n), len(groups))-1], nil
	}

	return c, &created
}

func TestKafkaConsumer_JoinFailureReleasesGroup(t *testing.T) {
	group := &fakeConsumerGroup{
		consume: func(context.Context, sarama.ConsumerGroupHandler) error {
			return errBrokerDown
		},
	}

	c, created := newFakeConsumer(group)

	_, err := c.Subscribe(context.Background())
	require.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, int32(1), group.closed.Load())

	// A retry joins again instead of reporting a stale subscription.
	_, err = c.Subscribe(context.Background())
	require.ErrorIs(t, err, errBrokerDown)
	require.NotErrorIs(t, err, ErrKafkaAlreadySubscribed)
	assert.Equal(t, int32(2), created.Load())

	require.NoError(t, c.Close())
}

func TestKafkaConsumer_CancelledJoinReleasesGroup(t *testing.T) {
	group := &fakeConsumerGroup{
		consume: func(ctx context.Context, _ sarama.ConsumerGroupHandler) error {
			<-ctx.Done()

			return nil
		},
	}

	c, _ := newFakeConsumer(group)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Subscribe(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), group.closed.Load())

	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), group.closed.Load())
}

func TestKafkaConsumer_SubscribeOnce(t *testing.T) {
	group := &fakeConsumerGroup{
		consume: func(ctx context.Context, handler sarama.ConsumerGroupHandler) error {
			if err := handler.Setup(nil); err != nil {
				return err
			}

			<-ctx.Done()

			return nil
		},
	}

	c, _ := newFakeConsumer(group)

	frames, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	_, err = c.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrKafkaAlreadySubscribed)

	require.NoError(t, c.Close())

	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel was not closed")
	}
}
