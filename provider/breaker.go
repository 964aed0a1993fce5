package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/agentrelay/logging"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker decorator.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration
}

// CircuitBreaker wraps a Provider with circuit breaker protection. When the
// wrapped provider fails repeatedly, the circuit opens and subsequent calls
// fail fast without reaching the backend, preventing retry storms during an
// outage. Available reports false while the circuit is open so the router
// skips the provider during selection.
type CircuitBreaker struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[*Response]
	logger  logging.Logger
}

// NewCircuitBreaker wraps inner with a circuit breaker. Zero-valued config
// fields fall back to defaults.
func NewCircuitBreaker(inner Provider, cfg BreakerConfig, logger logging.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "provider:" + inner.Name(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &CircuitBreaker{inner: inner, breaker: cb, logger: logger}
}

// Name implements Provider.
func (p *CircuitBreaker) Name() string { return p.inner.Name() }

// Generate implements Provider routing the call through the breaker.
func (p *CircuitBreaker) Generate(ctx context.Context, req *Request) (*Response, error) {
	resp, err := p.breaker.Execute(func() (*Response, error) {
		return p.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// Stream implements Provider. The breaker protects stream initiation;
// errors surfaced on the channel after a successful connect do not trip it.
func (p *CircuitBreaker) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	var ch <-chan Chunk
	_, err := p.breaker.Execute(func() (*Response, error) {
		var streamErr error
		ch, streamErr = p.inner.Stream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return ch, nil
}

// Embed implements Provider, bypassing the breaker (embedding endpoints are
// billed and rate limited separately from completions).
func (p *CircuitBreaker) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.inner.Embed(ctx, text)
}

// Cost implements Provider by delegation.
func (p *CircuitBreaker) Cost(model string, usage TokenUsage) float64 {
	return p.inner.Cost(model, usage)
}

// Available implements Provider; false while the circuit is open.
func (p *CircuitBreaker) Available(ctx context.Context) bool {
	if p.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return p.inner.Available(ctx)
}
