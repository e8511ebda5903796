// Package monitor consumes pipe status messages and keeps the latest state
// of every pipe it has heard from.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/metrics"
	"github.com/stsolovey/pipemonitor/internal/status"
)

const (
	workerBufferSize   = 64
	listenerBufferSize = 32
)

var ErrAlreadyStarted = errors.New("monitor already started")

// Subscriber is the receive side of a transport.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// PipeState is the last status seen for one pipe.
type PipeState struct {
	Name        string    `json:"name"`
	Size        uint64    `json:"size"`
	MaxCapacity uint64    `json:"max_capacity"`
	Reports     int64     `json:"reports"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stats counts frames seen by the monitor.
type Stats struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
}

// Monitor decodes frames from a Subscriber on a pool of workers. Messages
// of one pipe always go to the same worker, so its state is updated in
// arrival order.
type Monitor struct {
	subscriber     Subscriber
	codec          status.Codec
	logger         *zap.Logger
	workers        int
	receiveTimeout time.Duration

	started atomic.Bool
	wg      sync.WaitGroup
	queues  []chan status.Message

	mu     sync.RWMutex
	states map[string]PipeState

	listenersMu sync.Mutex
	listeners   map[uint64]chan PipeState
	nextID      uint64

	received atomic.Int64
	dropped  atomic.Int64
}

type Option func(*Monitor)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithCodec(codec status.Codec) Option {
	return func(m *Monitor) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithWorkers sets the number of workers. Values below one mean one.
func WithWorkers(n int) Option {
	return func(m *Monitor) {
		m.workers = max(n, 1)
	}
}

// WithReceiveTimeout logs a warning whenever nothing arrives for d.
// Zero disables the warning.
func WithReceiveTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.receiveTimeout = d
	}
}

// New creates a monitor reading from subscriber.
func New(subscriber Subscriber, opts ...Option) *Monitor {
	m := &Monitor{
		subscriber: subscriber,
		codec:      status.JSON,
		logger:     zap.NewNop(),
		workers:    1,
		states:     make(map[string]PipeState),
		listeners:  make(map[uint64]chan PipeState),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start subscribes and launches the workers. They stop when ctx is done or
// the subscription channel is closed; Wait blocks until then.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	frames, err := m.subscriber.Subscribe(ctx)
	if err != nil {
		m.started.Store(false)

		return fmt.Errorf("failed to subscribe: %w", err)
	}

	m.logger.Info("starting monitor", zap.Int("workers", m.workers))

	m.queues = make([]chan status.Message, m.workers)

	for i := range m.queues {
		m.queues[i] = make(chan status.Message, workerBufferSize)

		m.wg.Add(1)

		go m.runWorker(i, m.queues[i])
	}

	m.wg.Add(1)

	go m.dispatch(ctx, frames)

	return nil
}

// Wait blocks until the dispatcher and all workers have stopped.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) dispatch(ctx context.Context, frames <-chan []byte) {
	defer m.wg.Done()

	defer func() {
		for _, q := range m.queues {
			close(q)
		}
	}()

	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)

	if m.receiveTimeout > 0 {
		timer = time.NewTimer(m.receiveTimeout)
		defer timer.Stop()

		timeout = timer.C
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				m.logger.Info("subscription closed, monitor stopping")

				return
			}

			if timer != nil {
				timer.Reset(m.receiveTimeout)
			}

			msg, ok := m.decode(frame)
			if !ok {
				continue
			}

			select {
			case m.queues[m.workerFor(msg.Name)] <- msg:
			case <-ctx.Done():
				return
			}

		case <-timeout:
			m.logger.Warn("no status received", zap.Duration("timeout", m.receiveTimeout))
			timer.Reset(m.receiveTimeout)

		case <-ctx.Done():
			m.logger.Info("monitor stopping")

			return
		}
	}
}

func (m *Monitor) decode(frame []byte) (status.Message, bool) {
	m.received.Add(1)

	var msg status.Message

	if err := m.codec.Unmarshal(frame, &msg); err != nil {
		m.drop("decode_error", err, frame)

		return msg, false
	}

	if err := msg.Validate(); err != nil {
		m.drop("invalid", err, frame)

		return msg, false
	}

	metrics.MonitorMessagesTotal.WithLabelValues("ok").Inc()

	return msg, true
}

func (m *Monitor) drop(reason string, err error, frame []byte) {
	m.dropped.Add(1)
	metrics.MonitorMessagesTotal.WithLabelValues(reason).Inc()
	m.logger.Warn("dropping status frame",
		zap.String("reason", reason),
		zap.Error(err),
		zap.Int("bytes", len(frame)),
	)
}

func (m *Monitor) workerFor(name string) int {
	return int(xxhash.Sum64String(name) % uint64(len(m.queues)))
}

func (m *Monitor) runWorker(id int, queue <-chan status.Message) {
	defer m.wg.Done()

	m.logger.Debug("worker started", zap.Int("worker", id))

	for msg := range queue {
		m.apply(msg)
	}

	m.logger.Debug("worker stopped", zap.Int("worker", id))
}

func (m *Monitor) apply(msg status.Message) {
	m.mu.Lock()
	state := m.states[msg.Name]
	state.Name = msg.Name
	state.Size = msg.Size
	state.MaxCapacity = msg.MaxCapacity
	state.Reports++
	state.UpdatedAt = time.Now()
	m.states[msg.Name] = state
	m.mu.Unlock()

	metrics.MonitorObservedSize.WithLabelValues(msg.Name).Set(float64(msg.Size))
	metrics.MonitorObservedCapacity.WithLabelValues(msg.Name).Set(float64(msg.MaxCapacity))

	m.logger.Debug("status received",
		zap.String("pipe", msg.Name),
		zap.Uint64("size", msg.Size),
		zap.Uint64("max_capacity", msg.MaxCapacity),
	)

	m.broadcast(state)
}

// Latest returns the last known state of every pipe, keyed by name.
func (m *Monitor) Latest() map[string]PipeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]PipeState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}

	return out
}

// Pipes returns the last known states sorted by pipe name.
func (m *Monitor) Pipes() []PipeState {
	latest := m.Latest()

	out := make([]PipeState, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Lookup returns the last known state of one pipe.
func (m *Monitor) Lookup(name string) (PipeState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[name]

	return s, ok
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Received: m.received.Load(),
		Dropped:  m.dropped.Load(),
	}
}

// Listen registers for state updates. A listener that falls behind misses
// updates. The returned function unregisters and closes the channel.
func (m *Monitor) Listen() (<-chan PipeState, func()) {
	ch := make(chan PipeState, listenerBufferSize)

	m.listenersMu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = ch
	m.listenersMu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
			close(ch)
		})
	}
}

func (m *Monitor) broadcast(state PipeState) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	for _, ch := range m.listeners {
		select {
		case ch <- state:
		default:
		}
	}
}
