// Package metrics provides real-time metrics collection for the gateway.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Proxied request counts per rewrite rule
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution per rule
//   - Requests rejected by an open circuit breaker
//   - Outcomes of backend health probes
//
// The collector runs in a dedicated goroutine. Emit never blocks the request
// path: when the buffer is full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Route:      "/api/v1/:path*",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
//
// On shutdown the collector drains buffered events before stopping.
package metrics
