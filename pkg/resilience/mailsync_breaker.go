// Package resilience guards calls to mail servers with per-host circuit breakers.
package resilience

import (
	"errors"
	"sync"
	"time"

	"mailsync_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker for a host rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds the settings applied to every host breaker.
type BreakerConfig struct {
	MaxRequests         uint32        // requests allowed while half-open
	Interval            time.Duration // closed-state counter reset
	Timeout             time.Duration // open duration before half-open
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	// IsSuccessful reports errors that say nothing about the host's health.
	// Nil counts every error as a failure.
	IsSuccessful func(err error) bool
}

// DefaultBreakerConfig returns the settings used for mail server dials.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		MinRequests:         10,
		FailureRatio:        0.6,
	}
}

// Registry lazily creates one breaker per key.
type Registry struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry(cfg BreakerConfig) *Registry {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *Registry) breaker(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cfg := r.cfg
	var isSuccessful func(error) bool
	if cfg.IsSuccessful != nil {
		isSuccessful = func(err error) bool { return err == nil || cfg.IsSuccessful(err) }
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.MinRequests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
		IsSuccessful: isSuccessful,
	})
	r.breakers[key] = cb
	return cb
}

// Execute runs fn under the breaker for key. Rejections by an open or
// saturated half-open breaker are reported as ErrCircuitOpen.
func Execute[T any](r *Registry, key string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := r.breaker(key).Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, ErrCircuitOpen
	}
	if err != nil {
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// State reports the breaker state for key, "closed" for unseen keys.
func (r *Registry) State(key string) string {
	r.mu.Lock()
	cb, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}
