package circuitbreaker

import (
	"net/url"
	"sync"
	"time"
)

// Registry hands out one breaker per upstream origin.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

type RegistryOption func(*Registry)

// WithClock overrides the time source of every breaker the registry creates.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(threshold int, timeout time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the registry key for u: its scheme and host.
func Key(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func (r *Registry) GetBreaker(key string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another goroutine may have created it meanwhile.
	if cb, exists = r.breakers[key]; exists {
		return cb
	}

	cb = newCircuitBreaker(r.threshold, r.timeout, r.now)
	r.breakers[key] = cb
	return cb
}

// For returns the breaker guarding the origin of u.
func (r *Registry) For(u *url.URL) *CircuitBreaker {
	return r.GetBreaker(Key(u))
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = cb.State()
	}
	return stats
}
