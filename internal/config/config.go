package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

var (
	ErrInvalidCapacity   = errors.New("pipe capacity must be positive")
	ErrInvalidReportMode = errors.New("unsupported report mode")
	ErrInvalidStrategy   = errors.New("unsupported composite strategy")
)

const (
	ReportModeSync  = "sync"
	ReportModeAsync = "async"

	StrategyBestEffort = "best-effort"
	StrategyFailFast   = "fail-fast"
)

// Config holds all application configuration.
type Config struct {
	Pipe      PipeConfig
	Report    ReportConfig
	Transport TransportConfig
	Monitor   MonitorConfig
	Demo      DemoConfig
	Logging   LogConfig
}

// PipeConfig describes the pipe created by the demo.
type PipeConfig struct {
	Name     string `envconfig:"PIPE_NAME" default:"demo"`
	Capacity int    `envconfig:"PIPE_CAPACITY" default:"5"`
	Address  string `envconfig:"PIPE_ADDRESS" default:"memory://pipes"`
}

// ReportConfig controls how status reports are produced.
type ReportConfig struct {
	Codec       string        `envconfig:"STATUS_CODEC" default:"json"`
	Mode        string        `envconfig:"REPORT_MODE" default:"sync"`
	OutboxSize  int           `envconfig:"REPORT_OUTBOX_SIZE" default:"1024"`
	SendTimeout time.Duration `envconfig:"REPORT_SEND_TIMEOUT" default:"2s"`
	// RatePerSecond of zero disables rate limiting.
	RatePerSecond float64 `envconfig:"REPORT_RATE" default:"0"`
	Burst         int     `envconfig:"REPORT_BURST" default:"1"`
}

// TransportConfig holds broker specific settings.
type TransportConfig struct {
	NATSStreamName    string        `envconfig:"NATS_STREAM" default:"PIPEMONITOR"`
	NATSSubjectPrefix string        `envconfig:"NATS_SUBJECT_PREFIX" default:"pipemonitor"`
	NATSJetStream     bool          `envconfig:"NATS_JETSTREAM" default:"false"`
	NATSMaxReconnects int           `envconfig:"NATS_MAX_RECONNECTS" default:"5"`
	NATSReconnectWait time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`

	KafkaConsumerGroup string `envconfig:"KAFKA_CONSUMER_GROUP" default:"pipemonitor"`

	CompositeStrategy string `envconfig:"COMPOSITE_STRATEGY" default:"best-effort"`
}

// MonitorConfig holds listener daemon configuration.
type MonitorConfig struct {
	Address        string        `envconfig:"MONITOR_ADDRESS" default:"memory://pipes"`
	HTTPPort       string        `envconfig:"MONITOR_PORT" default:"8090"`
	GRPCPort       string        `envconfig:"MONITOR_GRPC_PORT" default:"8091"`
	Workers        int           `envconfig:"MONITOR_WORKERS" default:"2"`
	ReceiveTimeout time.Duration `envconfig:"MONITOR_RECEIVE_TIMEOUT" default:"5s"`
}

// DemoConfig drives the producer/consumer demo.
type DemoConfig struct {
	Items           int           `envconfig:"DEMO_ITEMS" default:"10"`
	ProduceInterval time.Duration `envconfig:"DEMO_PRODUCE_INTERVAL" default:"100ms"`
	ConsumeInterval time.Duration `envconfig:"DEMO_CONSUME_INTERVAL" default:"150ms"`
	Reads           int           `envconfig:"DEMO_READS" default:"10"`
	MonitorURL      string        `envconfig:"DEMO_MONITOR_URL" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		Pipe: PipeConfig{
			Name:     "demo",
			Capacity: 5,
			Address:  "memory://pipes",
		},
		Report: ReportConfig{
			Codec:       "json",
			Mode:        ReportModeSync,
			OutboxSize:  1024,
			SendTimeout: 2 * time.Second,
			Burst:       1,
		},
		Transport: TransportConfig{
			NATSStreamName:     "PIPEMONITOR",
			NATSSubjectPrefix:  "pipemonitor",
			NATSMaxReconnects:  5,
			NATSReconnectWait:  2 * time.Second,
			KafkaConsumerGroup: "pipemonitor",
			CompositeStrategy:  StrategyBestEffort,
		},
		Monitor: MonitorConfig{
			Address:        "memory://pipes",
			HTTPPort:       "8090",
			GRPCPort:       "8091",
			Workers:        2,
			ReceiveTimeout: 5 * time.Second,
		},
		Demo: DemoConfig{
			Items:           10,
			ProduceInterval: 100 * time.Millisecond,
			ConsumeInterval: 150 * time.Millisecond,
			Reads:           10,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks values that envconfig cannot express.
func (c *Config) Validate() error {
	if c.Pipe.Capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.Pipe.Capacity)
	}

	switch c.Report.Mode {
	case ReportModeSync, ReportModeAsync:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidReportMode, c.Report.Mode)
	}

	switch c.Transport.CompositeStrategy {
	case StrategyBestEffort, StrategyFailFast:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, c.Transport.CompositeStrategy)
	}

	return nil
}
