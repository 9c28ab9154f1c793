package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Popie52/jobscheduler/internal/metrics"
)

var ErrAllProvidersFailed = errors.New("all AI providers failed")

// Chain tries its providers in order and returns the first success.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	log       *zap.Logger
	metrics   metrics.MetricsFn
}

type ChainOption func(*Chain)

func WithLogger(log *zap.Logger) ChainOption {
	return func(c *Chain) {
		c.log = log
	}
}

func WithMetrics(m metrics.MetricsFn) ChainOption {
	return func(c *Chain) {
		c.metrics = m
	}
}

// WithTimeout bounds each provider call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.timeout = d
	}
}

func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		log:       zap.NewNop(),
		metrics:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Complete returns the first provider's text that succeeds. A failing
// provider is logged and skipped; only exhaustion of the whole chain is an
// error, and it carries the last provider's message.
func (c *Chain) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for _, p := range c.providers {
		c.log.Debug("trying AI provider", zap.String("provider", p.Name()))

		text, err := c.call(ctx, p, prompt)
		if err == nil {
			c.metrics.IncProviderRequest(p.Name(), "success")
			return text, nil
		}

		c.metrics.IncProviderRequest(p.Name(), "error")
		c.log.Warn("provider failed",
			zap.String("provider", p.Name()),
			zap.Error(err))
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}

	if lastErr == nil {
		return "", fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}
	return "", fmt.Errorf("%w. last error: %w", ErrAllProvidersFailed, lastErr)
}

func (c *Chain) call(ctx context.Context, p Provider, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return p.Complete(ctx, prompt)
}

type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so it is called at most perMinute times a minute.
// Non-positive values return p unchanged.
func WithRateLimit(p Provider, perMinute int) Provider {
	if perMinute <= 0 {
		return p
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return r.Provider.Complete(ctx, prompt)
}
