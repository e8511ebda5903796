package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

// setupNATSContainer starts a NATS server with JetStream enabled and returns
// its nats:// URL.
func setupNATSContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Starting JetStream"),
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "could not start nats container")

	t.Cleanup(func() {
		if err := natsContainer.Terminate(ctx); err != nil {
			t.Logf("could not terminate nats container: %s", err)
		}
	})

	endpoint, err := natsContainer.Endpoint(ctx, "")
	require.NoError(t, err, "could not get nats container endpoint")

	return "nats://" + endpoint
}

func TestNATSTransport_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	url := setupNATSContainer(t)

	for _, jetStream := range []bool{false, true} {
		name := "core"
		if jetStream {
			name = "jetstream"
		}

		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			opts := DefaultOptions()
			opts.Logger = zaptest.NewLogger(t)
			opts.NATS.JetStream = jetStream
			opts.Name = "integration"

			address := url + "/it-" + name

			sub, err := Connect(ctx, address, Options{
				Role: RoleSubscriber, Logger: opts.Logger, NATS: opts.NATS,
			})
			require.NoError(t, err)
			defer sub.Close()

			ch, err := sub.Subscribe(ctx)
			require.NoError(t, err)

			pub, err := Connect(ctx, address, opts)
			require.NoError(t, err)
			defer pub.Close()

			// Core NATS drops frames published before the interest propagates.
			time.Sleep(200 * time.Millisecond)

			frames := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
			for _, f := range frames {
				require.NoError(t, pub.Send(ctx, []byte(f)))
			}

			for _, want := range frames {
				assert.Equal(t, want, string(receive(t, ch)))
			}

			assert.Equal(t, int64(3), pub.Stats().TotalSent)
		})
	}
}

func TestKafkaTransport_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx,
		"confluentinc/cp-kafka:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err, "failed to start Kafka container")

	defer func() {
		if err := testcontainers.TerminateContainer(kafkaContainer); err != nil {
			t.Logf("Failed to terminate Kafka container: %v", err)
		}
	}()

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	// Wait for Kafka to stabilize
	time.Sleep(5 * time.Second)

	opts := DefaultOptions()
	opts.Name = "orders"
	opts.Logger = zaptest.NewLogger(t)
	opts.Kafka.ConsumerGroup = "it-group"

	p, err := Connect(ctx, "kafka://"+brokers[0]+"/pipe-status-it", opts)
	require.NoError(t, err)
	defer p.Close()

	// The topic is auto-created by the first send.
	require.NoError(t, p.Send(ctx, []byte(`{"name":"orders","size":1,"max_capacity":5}`)))

	subCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ch, err := p.Subscribe(subCtx)
	require.NoError(t, err)

	require.NoError(t, p.Send(ctx, []byte(`{"name":"orders","size":2,"max_capacity":5}`)))

	var got []string

	for len(got) < 2 {
		select {
		case frame, ok := <-ch:
			require.True(t, ok)

			got = append(got, string(frame))
		case <-subCtx.Done():
			t.Fatalf("timeout waiting for Kafka frames, got %v", got)
		}
	}

	assert.Equal(t, []string{
		`{"name":"orders","size":1,"max_capacity":5}`,
		`{"name":"orders","size":2,"max_capacity":5}`,
	}, got)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.TotalSent)
	assert.GreaterOrEqual(t, stats.TotalReceived, int64(2))
}
