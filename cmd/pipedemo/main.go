// Command pipedemo runs a producer and a consumer against one shared pipe
// and logs the status reports the pipe publishes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stsolovey/pipemonitor/internal/client"
	"github.com/stsolovey/pipemonitor/internal/config"
	"github.com/stsolovey/pipemonitor/internal/logging"
	"github.com/stsolovey/pipemonitor/internal/monitor"
	"github.com/stsolovey/pipemonitor/internal/pipe"
	"github.com/stsolovey/pipemonitor/internal/status"
	"github.com/stsolovey/pipemonitor/internal/transport"
)

const (
	listenerName  = "pipedemo-listener"
	settleTimeout = 2 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pipedemo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := status.CodecByName(cfg.Report.Codec)
	if err != nil {
		return err
	}

	factory := transport.NewFactory(cfg, logger)

	// The listener subscribes before the pipe exists so no report is missed.
	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()

	sub, err := factory.Connect(listenCtx, cfg.Pipe.Address, listenerName, transport.RoleSubscriber)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer sub.Close()

	listener := monitor.New(sub,
		monitor.WithLogger(logger.Named("listener")),
		monitor.WithCodec(codec),
		monitor.WithReceiveTimeout(cfg.Monitor.ReceiveTimeout),
	)
	if err := listener.Start(listenCtx); err != nil {
		return err
	}

	updates, unlisten := listener.Listen()
	defer unlisten()

	go logUpdates(logger.Named("listener"), updates)

	topts, err := factory.Options(cfg.Pipe.Name, transport.RolePublisher)
	if err != nil {
		return err
	}

	shared, err := pipe.NewShared[int](ctx, cfg.Pipe.Capacity, cfg.Pipe.Address, cfg.Pipe.Name,
		pipe.WithLogger(logger),
		pipe.WithCodec(codec),
		pipe.WithTransportOptions(topts),
		pipe.WithReporterOptions(reporterOptions(cfg.Report, logger)...),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}

	demoErr := runDemo(ctx, shared, cfg.Demo, logger.Named("demo"))

	if err := shared.Close(); err != nil {
		logger.Warn("failed to close pipe", zap.Error(err))
	}

	waitForReports(listener, cfg.Pipe.Name, settleTimeout)

	cancelListen()
	listener.Wait()

	if state, ok := listener.Lookup(cfg.Pipe.Name); ok {
		logger.Info("last status seen by listener",
			zap.String("pipe", state.Name),
			zap.Uint64("size", state.Size),
			zap.Uint64("max_capacity", state.MaxCapacity),
			zap.Int64("reports", state.Reports),
		)
	}

	if cfg.Demo.MonitorURL != "" {
		queryMonitor(ctx, cfg.Demo.MonitorURL, logger)
	}

	return demoErr
}

func reporterOptions(rc config.ReportConfig, logger *zap.Logger) []status.ReporterOption {
	opts := []status.ReporterOption{
		status.WithLogger(logger.Named("reporter")),
		status.WithSendTimeout(rc.SendTimeout),
		status.WithRateLimit(rc.RatePerSecond, rc.Burst),
	}

	if rc.Mode == config.ReportModeAsync {
		opts = append(opts, status.WithAsync(rc.OutboxSize))
	}

	return opts
}

// runDemo pushes 1..Items from a producer while a consumer peeks at the
// front of the pipe.
func runDemo(ctx context.Context, shared *pipe.Shared[int], dc config.DemoConfig, logger *zap.Logger) error {
	producer := shared.Clone()
	consumer := shared.Clone()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer producer.Close()

		for i := 1; i <= dc.Items; i++ {
			evicted, ok := producer.PushBack(i)
			if ok {
				logger.Info("producer pushed", zap.Int("value", i), zap.Int("evicted", evicted))
			} else {
				logger.Info("producer pushed", zap.Int("value", i))
			}

			if err := sleep(ctx, dc.ProduceInterval); err != nil {
				return err
			}
		}

		return nil
	})

	g.Go(func() error {
		defer consumer.Close()

		for range dc.Reads {
			if err := sleep(ctx, dc.ConsumeInterval); err != nil {
				return err
			}

			err := consumer.WithContext(ctx, func(p *pipe.Pipe[int]) error {
				if p.Len() == 0 {
					logger.Info("consumer: pipe is empty")

					return nil
				}

				logger.Info("consumer read front", zap.Int("value", p.MustAt(0)))

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	return g.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logUpdates(logger *zap.Logger, updates <-chan monitor.PipeState) {
	for st := range updates {
		logger.Info("status",
			zap.String("name", st.Name),
			zap.Uint64("size", st.Size),
			zap.Uint64("max_capacity", st.MaxCapacity),
		)
	}
}

// waitForReports gives in-flight reports a moment to reach the listener.
func waitForReports(listener *monitor.Monitor, name string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	var last int64 = -1

	for time.Now().Before(deadline) {
		state, _ := listener.Lookup(name)
		if state.Reports == last {
			return
		}

		last = state.Reports

		time.Sleep(100 * time.Millisecond)
	}
}

func queryMonitor(ctx context.Context, url string, logger *zap.Logger) {
	c := client.NewMonitorClient(url)

	pipes, err := c.Pipes(ctx)
	if err != nil {
		logger.Warn("failed to query monitor", zap.String("url", url), zap.Error(err))

		return
	}

	for _, p := range pipes {
		logger.Info("monitor reports pipe",
			zap.String("pipe", p.Name),
			zap.Uint64("size", p.Size),
			zap.Uint64("max_capacity", p.MaxCapacity),
		)
	}
}
