// Package pipe implements a bounded FIFO that evicts its oldest element when
// full and reports its occupancy after every mutation.
package pipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/metrics"
	"github.com/stsolovey/pipemonitor/internal/queue"
	"github.com/stsolovey/pipemonitor/internal/status"
	"github.com/stsolovey/pipemonitor/internal/transport"
)

// Pipe is a bounded queue bound to a name and a status transport. Every
// PushBack and PopFront publishes a status message carrying the length
// after the mutation. A Pipe is not safe for concurrent use; see Shared.
type Pipe[T any] struct {
	queue    *queue.Bounded[T]
	name     string
	address  string
	reporter *status.Reporter
	logger   *zap.Logger

	// owned is the transport dialed by New; nil when a publisher was injected.
	owned transport.Publisher

	size      prometheus.Gauge
	evictions prometheus.Counter
	pushes    prometheus.Counter
	pops      prometheus.Counter
}

// New creates a pipe of maxCapacity elements reporting to address. An empty
// name is replaced by pipe-<uuid>. The transport is connected before New
// returns; a connect failure is returned and no pipe is created.
func New[T any](ctx context.Context, maxCapacity int, address, name string, opts ...Option) (*Pipe[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	q, err := queue.NewBounded[T](maxCapacity)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "pipe-" + uuid.NewString()
	}

	logger := o.logger.With(zap.String("pipe", name))

	pub := o.publisher

	var owned transport.Publisher

	if pub == nil {
		topts := o.transport
		topts.Name = name
		topts.Role = transport.RolePublisher

		if topts.Logger == nil {
			topts.Logger = logger
		}

		provider, err := transport.Connect(ctx, address, topts)
		if err != nil {
			return nil, fmt.Errorf("pipe %s: %w", name, err)
		}

		pub = provider
		owned = provider
	}

	reporterOpts := append([]status.ReporterOption{
		status.WithLogger(logger),
		status.WithCodec(o.codec),
	}, o.reporterOpts...)

	p := &Pipe[T]{
		queue:     q,
		name:      name,
		address:   address,
		reporter:  status.NewReporter(pub, reporterOpts...),
		logger:    logger,
		owned:     owned,
		size:      metrics.PipeSize.WithLabelValues(name),
		evictions: metrics.PipeEvictionsTotal.WithLabelValues(name),
		pushes:    metrics.PipeOperationsTotal.WithLabelValues(name, "push"),
		pops:      metrics.PipeOperationsTotal.WithLabelValues(name, "pop"),
	}

	metrics.PipeCapacity.WithLabelValues(name).Set(float64(maxCapacity))
	p.size.Set(0)

	logger.Debug("pipe created", zap.Int("max_capacity", maxCapacity), zap.String("address", address))

	return p, nil
}

// PushBack appends item. When the pipe is full the oldest element is
// removed first and returned with ok set.
func (p *Pipe[T]) PushBack(item T) (evicted T, ok bool) {
	evicted, ok = p.queue.PushBack(item)

	p.pushes.Inc()

	if ok {
		p.evictions.Inc()
	}

	p.report()

	return evicted, ok
}

// PopFront removes and returns the oldest element. A status message is
// sent even when the pipe was empty.
func (p *Pipe[T]) PopFront() (T, bool) {
	item, ok := p.queue.PopFront()

	p.pops.Inc()
	p.report()

	return item, ok
}

func (p *Pipe[T]) report() {
	n := p.queue.Len()
	p.size.Set(float64(n))
	p.reporter.Report(p.name, n, p.queue.Cap())
}

func (p *Pipe[T]) Len() int        { return p.queue.Len() }
func (p *Pipe[T]) Cap() int        { return p.queue.Cap() }
func (p *Pipe[T]) Name() string    { return p.name }
func (p *Pipe[T]) Address() string { return p.address }

// At returns the element at position i, 0 being the oldest.
func (p *Pipe[T]) At(i int) (T, error) {
	return p.queue.At(i)
}

// Set replaces the element at position i.
func (p *Pipe[T]) Set(i int, item T) error {
	return p.queue.Set(i, item)
}

// MustAt is like At but panics when i is out of range.
func (p *Pipe[T]) MustAt(i int) T {
	item, err := p.queue.At(i)
	if err != nil {
		panic(fmt.Errorf("pipe %s: %w", p.name, err))
	}

	return item
}

func (p *Pipe[T]) Front() (T, bool) {
	return p.queue.Front()
}

// Snapshot returns a copy of the contents, oldest first.
func (p *Pipe[T]) Snapshot() []T {
	return p.queue.Snapshot()
}

// ReportStats returns delivery counters of the status reporter.
func (p *Pipe[T]) ReportStats() status.Stats {
	return p.reporter.Stats()
}

// Close flushes the reporter and closes the transport dialed by New.
func (p *Pipe[T]) Close() error {
	var errs []error

	if err := p.reporter.Close(); err != nil {
		errs = append(errs, err)
	}

	if p.owned != nil {
		if err := p.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}

	p.logger.Debug("pipe closed")

	return errors.Join(errs...)
}
