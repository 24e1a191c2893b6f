package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/agent-publisher/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrBreakerOpen 通道写入熔断中
var ErrBreakerOpen = errors.New("bus: channel circuit open")

// BreakerSettings 通道写入熔断参数
type BreakerSettings struct {
	Enable      bool
	MaxFailures uint32
	OpenTimeout time.Duration
}

type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(topic string, cfg BreakerSettings) *breaker {
	if !cfg.Enable {
		return &breaker{}
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        topic,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("channel breaker state changed",
				zap.String("topic", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})}
}

func (b *breaker) run(fn func() error) error {
	if b.cb == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}
