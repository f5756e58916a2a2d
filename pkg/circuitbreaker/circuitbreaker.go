// Package circuitbreaker wraps sony/gobreaker with the settings the services share.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrOpenState       = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

type Settings struct {
	Name string
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts; zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// IsSuccessful decides which errors count as failures. Nil means only nil errors succeed.
	IsSuccessful func(err error) bool
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
	}
}

type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

func New[T any](s Settings, logger *zap.Logger) *Breaker[T] {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 1
	}
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: s.IsSuccessful,
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](st)}
}

func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

// Open reports whether calls are currently being rejected.
func (b *Breaker[T]) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
