package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/config"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported transport scheme")
	ErrInvalidAddress    = errors.New("invalid transport address")
)

const (
	SchemeMemory = "memory"
	SchemeNATS   = "nats"
	SchemeKafka  = "kafka"

	addressSeparator = ";"
)

// Options tune how Connect builds a provider.
type Options struct {
	// Name identifies the endpoint: NATS connection name and Kafka record key.
	Name     string
	Role     Role
	Logger   *zap.Logger
	NATS     NATSConfig
	Kafka    KafkaConfig
	Strategy CompositeStrategy
}

// DefaultOptions returns options for a publish and subscribe endpoint.
func DefaultOptions() Options {
	return Options{
		Role: RolePublisher | RoleSubscriber,
		NATS: NATSConfig{
			StreamName:    "PIPEMONITOR",
			SubjectPrefix: "pipemonitor",
			MaxReconnects: 5,
			ReconnectWait: 2 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "pipemonitor",
		},
		Strategy: BestEffort,
	}
}

// Connect opens a provider for address. Supported forms are memory://hub,
// nats://host:port[/prefix] and kafka://broker[,broker]/topic. Addresses
// joined with ";" are combined into a Composite.
//
//nolint:ireturn
func Connect(ctx context.Context, address string, opts Options) (Provider, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.Role == 0 {
		opts.Role = RolePublisher | RoleSubscriber
	}

	parts := splitAddresses(address)

	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	case 1:
		return connectOne(ctx, parts[0], opts)
	}

	providers := make([]Provider, 0, len(parts))

	for _, part := range parts {
		p, err := connectOne(ctx, part, opts)
		if err != nil {
			for _, opened := range providers {
				_ = opened.Close()
			}

			return nil, err
		}

		providers = append(providers, p)
	}

	return NewComposite(providers, opts.Strategy, opts.Logger), nil
}

func splitAddresses(address string) []string {
	var parts []string

	for _, p := range strings.Split(address, addressSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	return parts
}

//nolint:ireturn
func connectOne(ctx context.Context, address string, opts Options) (Provider, error) {
	scheme, target, ok := strings.Cut(address, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrInvalidAddress, address)
	}

	logger := opts.Logger.With(zap.String("address", address))

	switch strings.ToLower(scheme) {
	case SchemeMemory:
		if target == "" {
			return nil, fmt.Errorf("%w: memory hub name is empty", ErrInvalidAddress)
		}

		return NewMemoryTransport(target), nil

	case SchemeNATS:
		cfg, err := natsConfigFor(address, opts)
		if err != nil {
			return nil, err
		}

		t, err := NewNATSTransport(ctx, cfg, opts.Role, logger)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", address, err)
		}

		return t, nil

	case SchemeKafka:
		brokers, topic, err := parseKafkaTarget(target)
		if err != nil {
			return nil, err
		}

		cfg := opts.Kafka
		cfg.Brokers = brokers
		cfg.Topic = topic
		cfg.Key = opts.Name

		t, err := NewKafkaTransport(cfg, opts.Role, logger)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", address, err)
		}

		return t, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// natsConfigFor splits the subject prefix off the URL path.
func natsConfigFor(address string, opts Options) (NATSConfig, error) {
	u, err := url.Parse(address)
	if err != nil {
		return NATSConfig{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	if u.Host == "" {
		return NATSConfig{}, fmt.Errorf("%w: %q has no host", ErrInvalidAddress, address)
	}

	cfg := opts.NATS
	cfg.Name = opts.Name

	if prefix := strings.Trim(u.Path, "/"); prefix != "" {
		cfg.SubjectPrefix = strings.ReplaceAll(prefix, "/", ".")
	}

	u.Path = ""
	u.RawQuery = ""
	cfg.URL = u.String()

	return cfg, nil
}

// Factory builds providers from application configuration.
type Factory struct {
	config *config.Config
	logger *zap.Logger
}

// NewFactory creates a new transport factory.
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		config: cfg,
		logger: logger,
	}
}

// Options returns connect options for an endpoint called name.
func (f *Factory) Options(name string, role Role) (Options, error) {
	strategy, err := ParseStrategy(f.config.Transport.CompositeStrategy)
	if err != nil {
		return Options{}, err
	}

	tc := f.config.Transport

	return Options{
		Name:   name,
		Role:   role,
		Logger: f.logger,
		NATS: NATSConfig{
			StreamName:    tc.NATSStreamName,
			SubjectPrefix: tc.NATSSubjectPrefix,
			JetStream:     tc.NATSJetStream,
			MaxReconnects: tc.NATSMaxReconnects,
			ReconnectWait: tc.NATSReconnectWait,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: tc.KafkaConsumerGroup,
		},
		Strategy: strategy,
	}, nil
}

// Connect opens a provider for address using the factory configuration.
//
//nolint:ireturn
func (f *Factory) Connect(ctx context.Context, address, name string, role Role) (Provider, error) {
	opts, err := f.Options(name, role)
	if err != nil {
		return nil, err
	}

	f.logger.Info("connecting transport", zap.String("address", address), zap.String("name", name))

	return Connect(ctx, address, opts)
}
