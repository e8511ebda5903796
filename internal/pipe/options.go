package pipe

import (
	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/status"
	"github.com/stsolovey/pipemonitor/internal/transport"
)

type options struct {
	logger       *zap.Logger
	codec        status.Codec
	publisher    transport.Publisher
	reporterOpts []status.ReporterOption
	transport    transport.Options
}

// Option configures a Pipe.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		codec:     status.JSON,
		transport: transport.DefaultOptions(),
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCodec selects the status message encoding.
func WithCodec(codec status.Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithPublisher makes the pipe report through an already connected
// publisher instead of dialing its address. The pipe does not close it.
func WithPublisher(pub transport.Publisher) Option {
	return func(o *options) {
		o.publisher = pub
	}
}

// WithReporterOptions passes options through to the status reporter.
func WithReporterOptions(opts ...status.ReporterOption) Option {
	return func(o *options) {
		o.reporterOpts = append(o.reporterOpts, opts...)
	}
}

// WithTransportOptions replaces the options used to dial the address.
// Name and Role are always set by the pipe.
func WithTransportOptions(opts transport.Options) Option {
	return func(o *options) {
		o.transport = opts
	}
}
