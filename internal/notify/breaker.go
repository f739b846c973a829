package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/nftseason/notifyd/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker for a notification URL is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// breakerSet manages one circuit breaker per notification URL, so a hung or
// failing provider does not stall every batch aimed at it.
type breakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakerSet) get(url string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, exists := b.breakers[url]
	b.mu.RUnlock()
	if exists {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, exists = b.breakers[url]; exists {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("notification_url", name).
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(name, breakerStateValue(to))
		},
	})

	b.breakers[url] = cb
	return cb
}

// execute runs fn behind the URL's breaker. The result is returned even when
// fn errors, so callers can still report the response that caused the failure.
func (b *breakerSet) execute(url string, fn func() (any, error)) (any, error) {
	result, err := b.get(url).Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().
				Str("notification_url", url).
				Msg("Circuit breaker is open, rejecting dispatch")
			return nil, ErrCircuitOpen
		}
		return result, err
	}
	return result, nil
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
