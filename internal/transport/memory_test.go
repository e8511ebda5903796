package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()

	select {
	case frame, ok := <-ch:
		require.True(t, ok, "channel closed")

		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")

		return nil
	}
}

func TestMemoryTransport_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewMemoryTransport(t.Name())
	sub1 := NewMemoryTransport(t.Name())
	sub2 := NewMemoryTransport(t.Name())

	defer pub.Close()
	defer sub1.Close()
	defer sub2.Close()

	ch1, err := sub1.Subscribe(ctx)
	require.NoError(t, err)
	ch2, err := sub2.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Send(ctx, []byte("one")))
	require.NoError(t, pub.Send(ctx, []byte("two")))

	assert.Equal(t, "one", string(receive(t, ch1)))
	assert.Equal(t, "two", string(receive(t, ch1)))
	assert.Equal(t, "one", string(receive(t, ch2)))
	assert.Equal(t, "two", string(receive(t, ch2)))

	assert.Equal(t, int64(2), pub.Stats().TotalSent)
	assert.Eventually(t, func() bool {
		return sub1.Stats().TotalReceived == 2
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryTransport_HubsAreIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := NewMemoryTransport(t.Name() + "-other")
	defer other.Close()

	ch, err := other.Subscribe(ctx)
	require.NoError(t, err)

	pub := NewMemoryTransport(t.Name())
	require.NoError(t, pub.Send(ctx, []byte("x")))

	select {
	case frame := <-ch:
		t.Fatalf("unexpected frame %q", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryTransport_SendWithoutSubscribers(t *testing.T) {
	pub := NewMemoryTransport(t.Name())

	require.NoError(t, pub.Send(context.Background(), []byte("nobody listens")))
}

func TestMemoryTransport_FrameIsCopied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := NewMemoryTransport(t.Name())
	defer tr.Close()

	ch, err := tr.Subscribe(ctx)
	require.NoError(t, err)

	payload := []byte("abc")
	require.NoError(t, tr.Send(ctx, payload))
	payload[0] = 'z'

	assert.Equal(t, "abc", string(receive(t, ch)))
}

func TestMemoryTransport_CloseEndsSubscriptions(t *testing.T) {
	tr := NewMemoryTransport(t.Name())

	ch, err := tr.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}

	require.ErrorIs(t, tr.Send(context.Background(), []byte("x")), ErrTransportClosed)

	_, err = tr.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, int64(1), tr.Stats().Errors)
}

func TestMemoryTransport_ContextCancelEndsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	tr := NewMemoryTransport(t.Name())
	defer tr.Close()

	ch, err := tr.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	require.ErrorIs(t, tr.Send(ctx, []byte("x")), context.Canceled)
}

func hubRegistered(name string) bool {
	hubs.mu.Lock()
	defer hubs.mu.Unlock()

	_, ok := hubs.m[name]

	return ok
}

func TestMemoryTransport_HubReleasedWithLastEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewMemoryTransport(t.Name())
	sub := NewMemoryTransport(t.Name())

	_, err := sub.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	assert.True(t, hubRegistered(t.Name()))

	// The publisher still owns the hub, so a late subscriber joins it.
	late := NewMemoryTransport(t.Name())
	ch, err := late.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Send(ctx, []byte("late")))
	assert.Equal(t, "late", string(receive(t, ch)))

	require.NoError(t, pub.Close())
	assert.True(t, hubRegistered(t.Name()))

	require.NoError(t, late.Close())
	require.NoError(t, late.Close())
	assert.False(t, hubRegistered(t.Name()))
}
