package circuitbreaker

import (
	"github.com/sony/gobreaker"

	"batchzip/internal/config"
	"batchzip/internal/metrics"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = gobreaker.ErrOpenState

// Breaker wraps gobreaker with metrics
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// New creates a new circuit breaker labelled name in metrics
func New(name string, cfg *config.Config, m *metrics.Metrics) *Breaker {
	threshold := uint32(cfg.CircuitBreakerThreshold)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.CircuitBreakerMaxRequests),
		Interval:    cfg.CircuitBreakerTimeout,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker(settings),
		name: name,
	}
}

// Execute runs the given function through the circuit breaker
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// Do runs fn through the circuit breaker when there is no result to return
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker's metrics label
func (b *Breaker) Name() string {
	return b.name
}
