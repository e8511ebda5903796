package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stsolovey/pipemonitor/internal/metrics"
)

const memoryBufferSize = 100

// hubs connects in-process publishers and subscribers by name.
//
//nolint:gochecknoglobals // process-wide registry, like a broker address space
var hubs = struct {
	mu sync.Mutex
	m  map[string]*memoryHub
}{m: make(map[string]*memoryHub)}

// acquireHub attaches an endpoint to the hub with the given name, creating
// it on first use.
func acquireHub(name string) *memoryHub {
	hubs.mu.Lock()
	defer hubs.mu.Unlock()

	h, ok := hubs.m[name]
	if !ok {
		h = &memoryHub{subs: make(map[uint64]chan []byte)}
		hubs.m[name] = h
	}

	h.refs++

	return h
}

// releaseHub detaches an endpoint. The hub is forgotten once no endpoint
// uses it.
func releaseHub(name string, h *memoryHub) {
	hubs.mu.Lock()
	defer hubs.mu.Unlock()

	h.refs--
	if h.refs <= 0 && hubs.m[name] == h {
		delete(hubs.m, name)
	}
}

// memoryHub broadcasts every frame to all current subscribers. A subscriber
// whose buffer is full misses the frame, as on a real pub/sub socket.
type memoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]chan []byte
	next uint64

	refs int // guarded by hubs.mu
}

func (h *memoryHub) add() (uint64, chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	ch := make(chan []byte, memoryBufferSize)
	h.subs[h.next] = ch

	return h.next, ch
}

func (h *memoryHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *memoryHub) broadcast(payload []byte) (delivered, missed int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		frame := append([]byte(nil), payload...)

		select {
		case ch <- frame:
			delivered++
		default:
			missed++
		}
	}

	return delivered, missed
}

// MemoryTransport is an in-process pub/sub endpoint addressed as memory://name.
type MemoryTransport struct {
	name   string
	hub    *memoryHub
	closed atomic.Bool

	mu     sync.Mutex
	subIDs []uint64

	totalSent     int64
	totalReceived int64
	errors        int64
}

// NewMemoryTransport joins the hub with the given name.
func NewMemoryTransport(name string) *MemoryTransport {
	return &MemoryTransport{
		name: name,
		hub:  acquireHub(name),
	}
}

// Send broadcasts payload to the hub's subscribers.
func (m *MemoryTransport) Send(ctx context.Context, payload []byte) error {
	if m.closed.Load() {
		atomic.AddInt64(&m.errors, 1)

		return ErrTransportClosed
	}

	if err := ctx.Err(); err != nil {
		atomic.AddInt64(&m.errors, 1)

		return err
	}

	_, missed := m.hub.broadcast(payload)
	if missed > 0 {
		metrics.TransportMessagesTotal.WithLabelValues("memory", "out", "missed").Add(float64(missed))
	}

	atomic.AddInt64(&m.totalSent, 1)
	metrics.TransportMessagesTotal.WithLabelValues("memory", "out", "ok").Inc()

	return nil
}

// Subscribe registers a new subscriber on the hub.
func (m *MemoryTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	if m.closed.Load() {
		return nil, ErrTransportClosed
	}

	id, in := m.hub.add()

	m.mu.Lock()
	m.subIDs = append(m.subIDs, id)
	m.mu.Unlock()

	out := make(chan []byte, memoryBufferSize)

	go func() {
		defer close(out)
		defer m.hub.remove(id)

		for {
			select {
			case frame, ok := <-in:
				if !ok {
					return
				}

				atomic.AddInt64(&m.totalReceived, 1)

				select {
				case out <- frame:
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

// Stats returns frame counters.
func (m *MemoryTransport) Stats() Stats {
	return Stats{
		TotalSent:     atomic.LoadInt64(&m.totalSent),
		TotalReceived: atomic.LoadInt64(&m.totalReceived),
		Errors:        atomic.LoadInt64(&m.errors),
	}
}

// Close detaches every subscriber created by this transport and leaves the hub.
func (m *MemoryTransport) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	ids := m.subIDs
	m.subIDs = nil
	m.mu.Unlock()

	for _, id := range ids {
		m.hub.remove(id)
	}

	releaseHub(m.name, m.hub)

	return nil
}
