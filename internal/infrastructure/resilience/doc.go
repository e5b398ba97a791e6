/*
Package resilience provides a circuit breaker for external helper programs.

# Overview

The debugger view shells out to a source-viewer helper for every step. When
that helper is missing or hangs, each step would pay the
full highlight timeout. The breaker remembers the failures and short-circuits
further calls so callers fall back immediately.

# Usage

	breaker := resilience.New("source-viewer", resilience.Settings{
		MaxFailures: 3,
		Cooldown:    30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	html, err := resilience.Call(breaker, func() (string, error) {
		return runHelper(ctx, file)
	})

# States

	Closed --[MaxFailures]-> Open --[Cooldown]-> Half-Open --[probe ok]-> Closed
	                                                |
	                                          [probe failed]
	                                                v
	                                              Open
*/
package resilience
