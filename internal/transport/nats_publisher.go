package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var errNilAck = errors.New("received nil acknowledgment from JetStream")

type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher creates a publisher on the broker's status subject.
func NewNATSPublisher(broker *NATSBroker) *NATSPublisher {
	return &NATSPublisher{
		nc:      broker.nc,
		js:      broker.js,
		subject: broker.statusSubject(),
	}
}

// Publish sends one frame. Core NATS publishing is fire-and-forget; in
// JetStream mode the call waits for the stream acknowledgment.
func (p *NATSPublisher) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.js == nil {
		if err := p.nc.Publish(p.subject, data); err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}

		return nil
	}

	ack, err := p.js.Publish(ctx, p.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	if ack == nil {
		return errNilAck
	}

	return nil
}
