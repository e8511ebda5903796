package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoProvidersConfigured = errors.New("no providers configured")
	ErrUnknownStrategy       = errors.New("unknown composite strategy")
)

// CompositeStrategy defines behavior on send errors.
type CompositeStrategy int

const (
	// BestEffort sends everywhere, logs failures, and reports success.
	BestEffort CompositeStrategy = iota
	// FailFast returns the first send error.
	FailFast
)

// ParseStrategy maps "best-effort" and "fail-fast" to a strategy.
func ParseStrategy(s string) (CompositeStrategy, error) {
	switch s {
	case "", "best-effort":
		return BestEffort, nil
	case "fail-fast":
		return FailFast, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Composite fans frames out to several providers and merges what they
// receive.
type Composite struct {
	providers []Provider
	strategy  CompositeStrategy
	logger    *zap.Logger
	mu        sync.RWMutex
	errors    int64
}

func NewComposite(providers []Provider, strategy CompositeStrategy, logger *zap.Logger) *Composite {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Composite{
		providers: providers,
		strategy:  strategy,
		logger:    logger,
	}
}

func (c *Composite) snapshot() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]Provider(nil), c.providers...)
}

// Send delivers payload to every provider in parallel.
func (c *Composite) Send(ctx context.Context, payload []byte) error {
	providers := c.snapshot()
	if len(providers) == 0 {
		return ErrNoProvidersConfigured
	}

	if c.strategy == FailFast {
		g, groupCtx := errgroup.WithContext(ctx)

		for _, provider := range providers {
			g.Go(func() error {
				return provider.Send(groupCtx, payload)
			})
		}

		if err := g.Wait(); err != nil {
			atomic.AddInt64(&c.errors, 1)

			return fmt.Errorf("failed to send to all providers: %w", err)
		}

		return nil
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)

	for _, provider := range providers {
		wg.Add(1)

		go func(p Provider) {
			defer wg.Done()

			if err := p.Send(ctx, payload); err != nil {
				failed.Add(1)
				c.logger.Warn("composite: failed to send to provider", zap.Error(err))
			}
		}(provider)
	}

	wg.Wait()

	if n := failed.Load(); n > 0 {
		atomic.AddInt64(&c.errors, n)
		c.logger.Warn("composite: providers failed during best-effort send",
			zap.Int64("failed", n),
			zap.Int("providers", len(providers)),
		)
	}

	return nil
}

// Subscribe merges the channels of every provider. The merged channel is
// closed after all of them are.
func (c *Composite) Subscribe(ctx context.Context) (<-chan []byte, error) {
	providers := c.snapshot()
	if len(providers) == 0 {
		return nil, ErrNoProvidersConfigured
	}

	subCtx, cancel := context.WithCancel(ctx)

	chans := make([]<-chan []byte, 0, len(providers))

	for _, provider := range providers {
		ch, err := provider.Subscribe(subCtx)
		if err != nil {
			cancel()

			return nil, fmt.Errorf("failed to subscribe to provider: %w", err)
		}

		chans = append(chans, ch)
	}

	out := make(chan []byte, memoryBufferSize)

	var wg sync.WaitGroup

	for _, ch := range chans {
		wg.Add(1)

		go func(in <-chan []byte) {
			defer wg.Done()

			for frame := range in {
				select {
				case out <- frame:
				case <-subCtx.Done():
					return
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()

	return out, nil
}

// Stats returns aggregated statistics from all providers.
func (c *Composite) Stats() Stats {
	aggregated := Stats{Errors: atomic.LoadInt64(&c.errors)}

	for _, provider := range c.snapshot() {
		stats := provider.Stats()
		aggregated.TotalSent += stats.TotalSent
		aggregated.TotalReceived += stats.TotalReceived
		aggregated.Errors += stats.Errors
	}

	return aggregated
}

// Close closes all configured providers.
func (c *Composite) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for _, provider := range c.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		c.logger.Warn("composite: errors during close", zap.Int("count", len(errs)))

		return fmt.Errorf("failed to close providers: %w", errors.Join(errs...))
	}

	return nil
}
