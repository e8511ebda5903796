package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PIPE_NAME":               "orders",
		"PIPE_CAPACITY":           "64",
		"PIPE_ADDRESS":            "nats://nats:4222",
		"STATUS_CODEC":            "yaml",
		"REPORT_MODE":             "async",
		"REPORT_RATE":             "10.5",
		"REPORT_SEND_TIMEOUT":     "250ms",
		"NATS_JETSTREAM":          "true",
		"COMPOSITE_STRATEGY":      "fail-fast",
		"MONITOR_RECEIVE_TIMEOUT": "1m",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Pipe.Name)
	assert.Equal(t, 64, cfg.Pipe.Capacity)
	assert.Equal(t, "nats://nats:4222", cfg.Pipe.Address)
	assert.Equal(t, "yaml", cfg.Report.Codec)
	assert.Equal(t, ReportModeAsync, cfg.Report.Mode)
	assert.InDelta(t, 10.5, cfg.Report.RatePerSecond, 0.001)
	assert.Equal(t, 250*time.Millisecond, cfg.Report.SendTimeout)
	assert.True(t, cfg.Transport.NATSJetStream)
	assert.Equal(t, StrategyFailFast, cfg.Transport.CompositeStrategy)
	assert.Equal(t, time.Minute, cfg.Monitor.ReceiveTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		err  error
	}{
		{name: "zero capacity", key: "PIPE_CAPACITY", val: "0", err: ErrInvalidCapacity},
		{name: "bad mode", key: "REPORT_MODE", val: "batch", err: ErrInvalidReportMode},
		{name: "bad strategy", key: "COMPOSITE_STRATEGY", val: "random", err: ErrInvalidStrategy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLoad_MalformedValue(t *testing.T) {
	t.Setenv("PIPE_CAPACITY", "many")

	_, err := Load()
	require.Error(t, err)
}
