package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"
	"github.com/stsolovey/pipemonitor/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultSendTimeout = 2 * time.Second
	minOutboxSize      = 2
)

// Sender is the publish side of a transport.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Stats counts report outcomes.
type Stats struct {
	Sent    int64
	Failed  int64
	Skipped int64
	Dropped int64
}

// Reporter serializes occupancy snapshots and forwards them to a Sender.
//
// Delivery is best effort: encode and send failures are logged and counted,
// never returned. In the default synchronous mode Report returns after the
// send completes, so messages from one pipe leave in the order its mutations
// completed. In async mode messages are queued on a lock-free outbox and sent
// by a single goroutine; a full outbox drops the report.
type Reporter struct {
	sender  Sender
	codec   Codec
	logger  *zap.Logger
	timeout time.Duration
	limiter *rate.Limiter

	outbox *lfq.MPSC[Message]
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	// gate orders enqueues before Close; producers share the read side.
	gate   sync.RWMutex
	closed bool

	sent    atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
	dropped atomic.Int64
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

func WithLogger(logger *zap.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithCodec(codec Codec) ReporterOption {
	return func(r *Reporter) {
		if codec != nil {
			r.codec = codec
		}
	}
}

// WithSendTimeout bounds a single send. Zero keeps the default.
func WithSendTimeout(timeout time.Duration) ReporterOption {
	return func(r *Reporter) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithRateLimit skips reports above rps per second. rps <= 0 means unlimited.
func WithRateLimit(rps float64, burst int) ReporterOption {
	return func(r *Reporter) {
		if rps <= 0 {
			r.limiter = nil

			return
		}

		r.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithAsync moves sending off the caller's goroutine onto an outbox of the
// given size.
func WithAsync(outboxSize int) ReporterOption {
	return func(r *Reporter) {
		r.outbox = lfq.NewMPSC[Message](max(outboxSize, minOutboxSize))
	}
}

// NewReporter creates a reporter sending through sender.
func NewReporter(sender Sender, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		sender:  sender,
		codec:   JSON,
		logger:  zap.NewNop(),
		timeout: defaultSendTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.outbox != nil {
		r.notify = make(chan struct{}, 1)
		r.done = make(chan struct{})

		r.wg.Add(1)
		go r.run()
	}

	return r
}

// Report publishes the (name, size, maxCapacity) triple.
func (r *Reporter) Report(name string, size, maxCapacity int) {
	msg := NewMessage(name, size, maxCapacity)

	if r.limiter != nil && !r.limiter.Allow() {
		r.skipped.Add(1)
		metrics.StatusReportsTotal.WithLabelValues(name, "skipped").Inc()

		return
	}

	if r.outbox == nil {
		r.send(msg)

		return
	}

	r.enqueue(msg)
}

// Async reports whether sends happen on a background goroutine.
func (r *Reporter) Async() bool {
	return r.outbox != nil
}

// Stats returns the report counters.
func (r *Reporter) Stats() Stats {
	return Stats{
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Skipped: r.skipped.Load(),
		Dropped: r.dropped.Load(),
	}
}

// Close flushes the async outbox and stops its goroutine. Reports arriving
// after Close are dropped. The sender is not closed; it belongs to the caller.
func (r *Reporter) Close() error {
	r.gate.Lock()
	if r.closed {
		r.gate.Unlock()

		return nil
	}

	r.closed = true
	r.gate.Unlock()

	if r.outbox != nil {
		r.outbox.Drain()
		close(r.done)
		r.wg.Wait()
		r.discard()
	}

	return nil
}

func (r *Reporter) enqueue(msg Message) {
	r.gate.RLock()
	defer r.gate.RUnlock()

	if r.closed {
		r.drop(msg, "reporter closed")

		return
	}

	if err := r.outbox.Enqueue(&msg); err != nil {
		if lfq.IsWouldBlock(err) {
			r.drop(msg, "outbox full")

			return
		}

		r.drop(msg, err.Error())

		return
	}

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Reporter) drop(msg Message, reason string) {
	r.dropped.Add(1)
	metrics.StatusReportsTotal.WithLabelValues(msg.Name, "dropped").Inc()
	r.logger.Debug("status report dropped",
		zap.String("pipe", msg.Name),
		zap.String("reason", reason),
	)
}

func (r *Reporter) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.notify:
			r.flush()
		case <-r.done:
			r.flush()

			return
		}
	}
}

// flush sends everything currently in the outbox. Only run calls it, which
// keeps the outbox single-consumer.
func (r *Reporter) flush() {
	for {
		msg, err := r.outbox.Dequeue()
		if err != nil {
			return
		}

		r.send(msg)
	}
}

// discard counts whatever the stopped sender goroutine left behind as
// dropped. It runs after run has returned, so it is the only consumer.
func (r *Reporter) discard() {
	for {
		msg, err := r.outbox.Dequeue()
		if err != nil {
			return
		}

		r.drop(msg, "reporter closed")
	}
}

func (r *Reporter) send(msg Message) {
	payload, err := r.codec.Marshal(msg)
	if err != nil {
		r.failed.Add(1)
		metrics.StatusReportsTotal.WithLabelValues(msg.Name, "encode_error").Inc()
		r.logger.Warn("failed to encode status report",
			zap.String("pipe", msg.Name),
			zap.String("codec", r.codec.Name()),
			zap.Error(err),
		)

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err = r.sender.Send(ctx, payload)
	metrics.StatusSendDuration.WithLabelValues(msg.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		r.failed.Add(1)
		metrics.StatusReportsTotal.WithLabelValues(msg.Name, "send_error").Inc()
		r.logger.Warn("failed to send status report",
			zap.String("pipe", msg.Name),
			zap.Uint64("size", msg.Size),
			zap.Uint64("max_capacity", msg.MaxCapacity),
			zap.Error(err),
		)

		return
	}

	r.sent.Add(1)
	metrics.StatusReportsTotal.WithLabelValues(msg.Name, "sent").Inc()
}
