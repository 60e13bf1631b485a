package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/angeloszaimis/frontend-gateway/internal/backend"
	"github.com/angeloszaimis/frontend-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/frontend-gateway/internal/metrics"
	"github.com/angeloszaimis/frontend-gateway/internal/rewrite"
)

// ProxyHandler rewrites matching requests and forwards them to the backend.
type ProxyHandler struct {
	logger           *slog.Logger
	table            *rewrite.Table
	backend          *backend.Backend
	breakers         *circuitbreaker.Registry
	metricsCollector *metrics.Collector
}

type Option func(*ProxyHandler)

// WithCircuitBreakers guards the backend with breakers from registry.
func WithCircuitBreakers(registry *circuitbreaker.Registry) Option {
	return func(h *ProxyHandler) {
		h.breakers = registry
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(h *ProxyHandler) {
		h.metricsCollector = collector
	}
}

func NewProxyHandler(logger *slog.Logger, table *rewrite.Table, b *backend.Backend, opts ...Option) *ProxyHandler {
	h := &ProxyHandler{
		logger:  logger,
		table:   table,
		backend: b,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, rule, ok := h.table.Match(r.URL)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var cb *circuitbreaker.CircuitBreaker
	if h.breakers != nil {
		cb = h.breakers.For(target)
		if !cb.Allow() {
			h.reject(w, r, rule, cb)
			return
		}
	}

	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:  metrics.EventRequestProxied,
		Route: rule.Source,
	})

	h.backend.IncrementConn()
	defer h.backend.DecrementConn()
	start := time.Now()

	h.logger.Debug("Forwarding to backend",
		slog.String("client", extractClientIP(r)),
		slog.String("path", r.URL.Path),
		slog.String("target", target.String()))

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	var err error
	// ReverseProxy panics with http.ErrAbortHandler when the response body is
	// cut off midway; the outcome is still recorded before the panic goes on.
	defer func() {
		p := recover()
		if p != nil {
			err = goerr.New("proxied response aborted", goerr.V("panic", p))
		}

		duration := time.Since(start)
		h.metricsCollector.Emit(metrics.MetricEvent{
			Type:       metrics.EventResponseCompleted,
			Route:      rule.Source,
			Backend:    circuitbreaker.Key(target),
			Duration:   duration,
			StatusCode: wrapped.statusCode,
		})
		h.backend.RecordResponse(duration)

		if cb != nil {
			h.judge(cb, r, err, wrapped.statusCode)
		}

		if p != nil {
			panic(p)
		}
	}()

	err = h.backend.Forward(wrapped, r, target)
}

func (h *ProxyHandler) judge(cb *circuitbreaker.CircuitBreaker, r *http.Request, err error, statusCode int) {
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || r.Context().Err() != nil):
		cb.Release()
	case err != nil, isUpstreamFailure(statusCode):
		cb.RecordFailure()
		if cb.State() == circuitbreaker.StateOpen {
			h.logger.Warn("Circuit breaker open",
				slog.String("backend", h.backend.URL().String()),
				slog.Duration("retry_after", cb.RetryAfter()))
		}
	default:
		cb.RecordSuccess()
	}
}

func (h *ProxyHandler) reject(w http.ResponseWriter, r *http.Request, rule rewrite.Rule, cb *circuitbreaker.CircuitBreaker) {
	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:  metrics.EventRequestRejected,
		Route: rule.Source,
	})

	h.logger.Debug("Circuit breaker rejected request",
		slog.String("client", extractClientIP(r)),
		slog.String("path", r.URL.Path))

	if wait := cb.RetryAfter(); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	http.Error(w, "Backend temporarily unavailable", http.StatusServiceUnavailable)
}

func isUpstreamFailure(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer for flushes.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
