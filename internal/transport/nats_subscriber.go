package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	natsBufferSize   = 100
	natsPullMaxBatch = 10
	natsErrorBackoff = time.Second
)

type NATSSubscriber struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	subject string
	logger  *zap.Logger
}

// NewNATSSubscriber creates a subscriber for every subject under the
// broker's prefix.
func NewNATSSubscriber(broker *NATSBroker) *NATSSubscriber {
	return &NATSSubscriber{
		nc:      broker.nc,
		js:      broker.js,
		stream:  broker.config.StreamName,
		subject: broker.wildcardSubject(),
		logger:  broker.logger,
	}
}

// Subscribe returns a channel of raw frames. In JetStream mode an ordered
// consumer delivers frames published after the call.
func (s *NATSSubscriber) Subscribe(ctx context.Context) (<-chan []byte, error) {
	if s.js != nil {
		return s.subscribeStream(ctx)
	}

	msgs := make(chan *nats.Msg, natsBufferSize)

	sub, err := s.nc.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	out := make(chan []byte, natsBufferSize)

	go func() {
		defer close(out)

		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				s.logger.Debug("NATS unsubscribe failed", zap.Error(err))
			}
		}()

		for {
			select {
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *NATSSubscriber) subscribeStream(ctx context.Context) (<-chan []byte, error) {
	consumer, err := s.js.OrderedConsumer(ctx, s.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(natsPullMaxBatch))
	if err != nil {
		return nil, fmt.Errorf("failed to create message iterator: %w", err)
	}

	out := make(chan []byte, natsBufferSize)

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	go func() {
		defer close(out)
		defer iter.Stop()

		for {
			msg, err := iter.Next()
			if err != nil {
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
					return
				}

				if errors.Is(err, nats.ErrTimeout) {
					continue
				}

				s.logger.Warn("error fetching message", zap.Error(err))

				select {
				case <-time.After(natsErrorBackoff):
				case <-ctx.Done():
					return
				}

				continue
			}

			select {
			case out <- msg.Data():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
