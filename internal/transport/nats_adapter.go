package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/metrics"
)

// NATSTransport publishes status frames to <prefix>.status and subscribes
// to <prefix>.>.
type NATSTransport struct {
	broker     *NATSBroker
	publisher  *NATSPublisher
	subscriber *NATSSubscriber
	closed     atomic.Bool
	done       chan struct{}

	totalSent     int64
	totalReceived int64
	errors        int64
}

// NewNATSTransport connects to NATS. The role decides whether a publisher,
// a subscriber, or both are prepared.
func NewNATSTransport(ctx context.Context, cfg NATSConfig, role Role, logger *zap.Logger) (*NATSTransport, error) {
	broker, err := NewNATSBroker(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS broker: %w", err)
	}

	t := &NATSTransport{
		broker: broker,
		done:   make(chan struct{}),
	}

	if role.publishes() {
		t.publisher = NewNATSPublisher(broker)
	}

	if role.subscribes() {
		t.subscriber = NewNATSSubscriber(broker)
	}

	return t, nil
}

// Send publishes one frame.
func (t *NATSTransport) Send(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		atomic.AddInt64(&t.errors, 1)

		return ErrTransportClosed
	}

	if t.publisher == nil {
		return ErrNotPublisher
	}

	if err := t.publisher.Publish(ctx, payload); err != nil {
		atomic.AddInt64(&t.errors, 1)
		metrics.TransportMessagesTotal.WithLabelValues("nats", "out", "error").Inc()

		return err
	}

	atomic.AddInt64(&t.totalSent, 1)
	metrics.TransportMessagesTotal.WithLabelValues("nats", "out", "ok").Inc()

	return nil
}

// Subscribe returns a channel of frames received from NATS.
func (t *NATSTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	subscriber := t.subscriber
	if subscriber == nil {
		subscriber = NewNATSSubscriber(t.broker)
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-t.done:
		case <-ctx.Done():
		}

		cancel()
	}()

	frames, err := subscriber.Subscribe(ctx)
	if err != nil {
		cancel()
		atomic.AddInt64(&t.errors, 1)

		return nil, err
	}

	out := make(chan []byte, natsBufferSize)

	go func() {
		defer close(out)

		for frame := range frames {
			atomic.AddInt64(&t.totalReceived, 1)
			metrics.TransportMessagesTotal.WithLabelValues("nats", "in", "ok").Inc()

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Stats returns frame counters.
func (t *NATSTransport) Stats() Stats {
	return Stats{
		TotalSent:     atomic.LoadInt64(&t.totalSent),
		TotalReceived: atomic.LoadInt64(&t.totalReceived),
		Errors:        atomic.LoadInt64(&t.errors),
	}
}

// Close drains the NATS connection.
func (t *NATSTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(t.done)

	return t.broker.Close()
}
