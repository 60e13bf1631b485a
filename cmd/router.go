package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"github.com/angeloszaimis/frontend-gateway/config"
	"github.com/angeloszaimis/frontend-gateway/internal/backend"
	"github.com/angeloszaimis/frontend-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/frontend-gateway/internal/handler"
	"github.com/angeloszaimis/frontend-gateway/internal/healthcheck"
	"github.com/angeloszaimis/frontend-gateway/internal/metrics"
	"github.com/angeloszaimis/frontend-gateway/internal/rewrite"
)

// gateway holds everything a request can touch. The backend URL is resolved
// once here and shared by the health reporter and the proxy.
type gateway struct {
	backend   *backend.Backend
	table     *rewrite.Table
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	reporter  *healthcheck.Reporter
	proxy     *handler.ProxyHandler
}

func newGateway(cfg *config.Config, log *slog.Logger, proberOpts ...healthcheck.ProberOption) (*gateway, error) {
	base, err := cfg.BackendURL()
	if err != nil {
		return nil, err
	}

	table, err := rewrite.Compile(rewrite.DefaultRules(base.String()))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile rewrite rules")
	}
	for _, rule := range table.Rules() {
		log.Debug("Rewrite rule",
			slog.String("source", rule.Source),
			slog.String("destination", rule.Destination))
	}

	gw := &gateway{
		backend: backend.New(base, backend.WithLogger(log)),
		table:   table,
	}

	var proxyOpts []handler.Option
	var reporterOpts []healthcheck.ReporterOption

	if cfg.Metrics.Enabled {
		gw.collector = metrics.NewCollector(cfg.Metrics.BufferSize, log)
		proxyOpts = append(proxyOpts, handler.WithMetrics(gw.collector))
		reporterOpts = append(reporterOpts, healthcheck.WithMetrics(gw.collector))
	}

	if cb := cfg.Proxy.CircuitBreaker; cb.Enabled {
		gw.breakers = circuitbreaker.NewRegistry(cb.Threshold, cb.ResetTimeoutDuration())
		proxyOpts = append(proxyOpts, handler.WithCircuitBreakers(gw.breakers))
	}

	var prober *healthcheck.Prober
	if cfg.Health.Mode == config.HealthModeCascade {
		prober = healthcheck.NewProber(base, proberOpts...)
	}

	gw.reporter = healthcheck.NewReporter(log, prober, reporterOpts...)
	gw.proxy = handler.NewProxyHandler(log, table, gw.backend, proxyOpts...)

	return gw, nil
}

// start launches background workers. The returned channel is closed once
// they have stopped after ctx is cancelled.
func (gw *gateway) start(ctx context.Context) <-chan struct{} {
	if gw.collector == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	gw.collector.Start(ctx)
	return gw.collector.Done()
}

func (gw *gateway) breakerStats() map[string]string {
	stats := make(map[string]string)
	for key, state := range gw.breakers.Stats() {
		stats[key] = state.String()
	}
	return stats
}

func setupRouter(cfg *config.Config, log *slog.Logger, gw *gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(handler.RequestID)
	r.Use(handler.AccessLog(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	// Static routes win over the proxy wildcards below, so the health path
	// is always answered locally.
	r.Get(healthcheck.Path, gw.reporter.Handler(cfg.Health.Mode))

	if gw.collector != nil {
		var stats metrics.BreakerStats
		if gw.breakers != nil {
			stats = gw.breakerStats
		}
		r.Get(cfg.Metrics.Path, gw.collector.Handler(gw.backend, stats))
	}

	for _, prefix := range gw.table.Prefixes() {
		r.Handle(prefix, gw.proxy)
		r.Handle(prefix+"/*", gw.proxy)
	}

	return r
}
