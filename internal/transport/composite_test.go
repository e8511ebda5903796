package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockSend      = errors.New("mock send error")
	errMockSubscribe = errors.New("mock subscribe error")
)

// MockProvider for testing purposes.
type MockProvider struct {
	mu       sync.Mutex
	sendErr  error
	subErr   error
	closeErr error
	frames   [][]byte
	closed   bool
}

func (m *MockProvider) Send(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.frames = append(m.frames, payload)

	return nil
}

// Subscribe replays every frame sent so far and closes the channel.
func (m *MockProvider) Subscribe(ctx context.Context) (<-chan []byte, error) {
	if m.subErr != nil {
		return nil, m.subErr
	}

	m.mu.Lock()
	frames := append([][]byte(nil), m.frames...)
	m.mu.Unlock()

	ch := make(chan []byte, len(frames))

	go func() {
		defer close(ch)

		for _, f := range frames {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (m *MockProvider) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{TotalSent: int64(len(m.frames))}
}

func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return m.closeErr
}

func TestComposite_SendFailFast(t *testing.T) {
	p1, p2 := &MockProvider{}, &MockProvider{}
	composite := NewComposite([]Provider{p1, p2}, FailFast, nil)

	require.NoError(t, composite.Send(context.Background(), []byte("frame")))
	assert.Len(t, p1.frames, 1)
	assert.Len(t, p2.frames, 1)

	p2.sendErr = errMockSend

	err := composite.Send(context.Background(), []byte("frame"))
	require.ErrorIs(t, err, errMockSend)
	assert.Equal(t, int64(1), composite.Stats().Errors)
}

func TestComposite_SendBestEffort(t *testing.T) {
	p1 := &MockProvider{}
	p2 := &MockProvider{sendErr: errMockSend}
	composite := NewComposite([]Provider{p1, p2}, BestEffort, nil)

	require.NoError(t, composite.Send(context.Background(), []byte("frame")))
	assert.Len(t, p1.frames, 1)

	stats := composite.Stats()
	assert.Equal(t, int64(1), stats.TotalSent)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestComposite_NoProviders(t *testing.T) {
	composite := NewComposite(nil, BestEffort, nil)

	require.ErrorIs(t, composite.Send(context.Background(), nil), ErrNoProvidersConfigured)

	_, err := composite.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrNoProvidersConfigured)
}

func TestComposite_SubscribeMergesProviders(t *testing.T) {
	p1 := &MockProvider{frames: [][]byte{[]byte("a"), []byte("b")}}
	p2 := &MockProvider{frames: [][]byte{[]byte("c")}}
	composite := NewComposite([]Provider{p1, p2}, BestEffort, nil)

	ch, err := composite.Subscribe(context.Background())
	require.NoError(t, err)

	var got []string

	timeout := time.After(2 * time.Second)

	for done := false; !done; {
		select {
		case frame, ok := <-ch:
			if !ok {
				done = true

				break
			}

			got = append(got, string(frame))
		case <-timeout:
			t.Fatal("merged channel was not closed")
		}
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}

func TestComposite_CloseJoinsErrors(t *testing.T) {
	p1 := &MockProvider{closeErr: errMockSend}
	p2 := &MockProvider{}
	composite := NewComposite([]Provider{p1, p2}, BestEffort, nil)

	err := composite.Close()
	require.ErrorIs(t, err, errMockSend)
	assert.True(t, p1.closed)
	assert.True(t, p2.closed)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, s)

	s, err = ParseStrategy("fail-fast")
	require.NoError(t, err)
	assert.Equal(t, FailFast, s)

	_, err = ParseStrategy("eventually")
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestComposite_SubscribeFailureReleasesEarlierProviders(t *testing.T) {
	mem := NewMemoryTransport(t.Name())
	defer mem.Close()

	broken := &MockProvider{subErr: errMockSubscribe}

	c := NewComposite([]Provider{mem, broken}, BestEffort, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.Subscribe(ctx)
	require.ErrorIs(t, err, errMockSubscribe)

	// The memory subscription must end without waiting for ctx.
	assert.Eventually(t, func() bool {
		mem.hub.mu.RLock()
		defer mem.hub.mu.RUnlock()

		return len(mem.hub.subs) == 0
	}, time.Second, 10*time.Millisecond)
}
