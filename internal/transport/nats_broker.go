package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

type NATSBroker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig
	logger *zap.Logger
}

// NATSConfig describes a NATS connection. Publishing uses core NATS unless
// JetStream is set, in which case frames are also retained in a stream.
type NATSConfig struct {
	URL           string
	Name          string
	StreamName    string
	SubjectPrefix string
	JetStream     bool
	MaxReconnects int
	ReconnectWait time.Duration
}

const (
	natsStreamMaxAge  = time.Hour
	natsStreamMaxMsgs = 100000
)

// NewNATSBroker connects to NATS and, in JetStream mode, makes sure the
// status stream exists.
func NewNATSBroker(ctx context.Context, cfg NATSConfig, logger *zap.Logger) (*NATSBroker, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	broker := &NATSBroker{
		nc:     nc,
		config: cfg,
		logger: logger,
	}

	if !cfg.JetStream {
		return broker, nil
	}

	broker.js, err = jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := broker.ensureStream(ctx); err != nil {
		nc.Close()

		return nil, err
	}

	return broker, nil
}

// ensureStream creates the JetStream stream if it does not exist.
func (b *NATSBroker) ensureStream(ctx context.Context) error {
	_, err := b.js.Stream(ctx, b.config.StreamName)
	if err == nil {
		b.logger.Debug("using existing stream", zap.String("stream", b.config.StreamName))

		return nil
	}

	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to check stream existence: %w", err)
	}

	// Status frames are snapshots: keep recent ones, drop the oldest.
	streamConfig := jetstream.StreamConfig{
		Name:      b.config.StreamName,
		Subjects:  []string{b.config.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
		MaxAge:    natsStreamMaxAge,
		MaxMsgs:   natsStreamMaxMsgs,
		Storage:   jetstream.MemoryStorage,
	}

	_, err = b.js.CreateStream(ctx, streamConfig)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			b.logger.Debug("stream was created concurrently", zap.String("stream", b.config.StreamName))

			return nil
		}

		return fmt.Errorf("failed to create stream: %w", err)
	}

	b.logger.Info("created stream", zap.String("stream", b.config.StreamName))

	return nil
}

func (b *NATSBroker) statusSubject() string {
	return b.config.SubjectPrefix + ".status"
}

func (b *NATSBroker) wildcardSubject() string {
	return b.config.SubjectPrefix + ".>"
}

// Close drains pending publishes and closes the connection.
func (b *NATSBroker) Close() error {
	if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.nc.Close()

		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	return nil
}
