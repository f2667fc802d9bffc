// Package httpx wraps outbound HTTP calls in failsafe-go retry and circuit
// breaker policies.
package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"confessional/api/internal/logging"
)

// Doer is the subset of *http.Client the clients depend on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Name string
	// MaxRetries of zero disables retries; the breaker still applies.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Breaker trips after FailureThreshold failures out of FailureWindow
	// executions and stays open for OpenDelay.
	FailureThreshold uint
	FailureWindow    uint
	OpenDelay        time.Duration

	Logger logging.Logger
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRetries:       3,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		FailureThreshold: 5,
		FailureWindow:    10,
		OpenDelay:        30 * time.Second,
	}
}

// ShouldRetry reports transport errors, 5xx and 429 as retryable.
func ShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

type Executor struct {
	name     string
	executor failsafe.Executor[*http.Response]
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
}

//nolint:bodyclose // *http.Response is a type parameter here
func New(cfg Config) *Executor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.FailureWindow == 0 {
		cfg.FailureWindow = 10
	}
	if cfg.FailureThreshold == 0 || cfg.FailureThreshold > cfg.FailureWindow {
		cfg.FailureThreshold = cfg.FailureWindow / 2
		if cfg.FailureThreshold == 0 {
			cfg.FailureThreshold = 1
		}
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 30 * time.Second
	}

	breakerBuilder := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		})
	if cfg.Logger != nil {
		logger := cfg.Logger
		name := cfg.Name
		breakerBuilder = breakerBuilder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"circuit_breaker": name,
				"from_state":      stateName(event.OldState),
				"to_state":        stateName(event.NewState),
			}).Warn("circuit breaker state change")
		})
	}
	breaker := breakerBuilder.Build()

	if cfg.MaxRetries <= 0 {
		return &Executor{name: cfg.Name, executor: failsafe.With[*http.Response](breaker), breaker: breaker}
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(ShouldRetry).
		ReturnLastFailure().
		Build()

	return &Executor{name: cfg.Name, executor: failsafe.With[*http.Response](retry, breaker), breaker: breaker}
}

// Do runs newRequest through the policies. newRequest is invoked once per
// attempt so request bodies can be rebuilt. Bodies of responses from failed
// attempts are drained and closed.
func (e *Executor) Do(ctx context.Context, client Doer, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var last *http.Response
	resp, err := e.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		if last != nil {
			drain(last)
			last = nil
		}
		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err == nil {
			last = resp
		}
		return resp, err
	})
	if err != nil {
		if resp != nil {
			drain(resp)
		}
		return nil, err
	}
	return resp, nil
}

func (e *Executor) BreakerOpen() bool {
	return e.breaker.IsOpen()
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
