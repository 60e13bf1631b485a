// Package circuitbreaker implements the circuit breaker pattern for the
// request proxy.
//
// A circuit breaker stops forwarding to a backend that keeps failing so that
// clients get a fast 503 instead of waiting on dial timeouts. It has three
// states:
//
//   - CLOSED: Normal operation, requests pass through
//   - OPEN: Backend failing, requests blocked
//   - HALF-OPEN: One trial request decides whether to close again
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.For(targetURL)
//	if cb.Allow() {
//	    // Forward request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
