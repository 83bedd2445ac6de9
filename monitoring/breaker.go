package monitoring

import (
	"log/slog"

	"emoney-portal/utils"
)

// NewBreaker builds a circuit breaker whose state changes are logged and
// exported on portal_circuit_breaker_state.
func NewBreaker(name string, opts ...utils.BreakerOption) *utils.CircuitBreaker {
	opts = append(opts, utils.WithStateChange(func(name string, from, to utils.State) {
		slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		TrackBreakerState(name, int(to))
	}))
	return utils.NewCircuitBreaker(name, opts...)
}
