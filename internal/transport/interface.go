package transport

import (
	"context"
	"errors"
)

var (
	ErrTransportClosed = errors.New("transport is closed")
	ErrNotPublisher    = errors.New("transport was not opened for publishing")
)

// Publisher sends whole frames to a publish endpoint.
type Publisher interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Subscriber receives whole frames from every topic of an endpoint. The
// channel is closed when ctx is done or the subscriber is closed.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// Provider combines Publisher and Subscriber.
type Provider interface {
	Publisher
	Subscriber
	Stats() Stats
}

// Stats counts frames handled by a transport.
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	Errors        int64
}

// Role selects which side of a transport is prepared at connect time.
type Role int

const (
	RolePublisher Role = 1 << iota
	RoleSubscriber
)

func (r Role) publishes() bool  { return r&RolePublisher != 0 }
func (r Role) subscribes() bool { return r&RoleSubscriber != 0 }
