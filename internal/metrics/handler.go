package metrics

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Upstream exposes live gauges of the proxied backend.
type Upstream interface {
	URL() *url.URL
	ActiveConnections() int
	EWMATime() time.Duration
}

// BreakerStats reports circuit breaker states keyed by upstream origin.
type BreakerStats func() map[string]string

// Handler serves the JSON snapshot. upstream and breakers may be nil.
func (c *Collector) Handler(upstream Upstream, breakers BreakerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.metrics.Snapshot()

		if upstream != nil {
			snap.Upstream = &UpstreamMetrics{
				URL:          upstream.URL().String(),
				InFlight:     upstream.ActiveConnections(),
				EWMAResponse: upstream.EWMATime(),
			}
			if breakers != nil {
				snap.Upstream.Breakers = breakers()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
