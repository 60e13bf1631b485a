package healthcheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/frontend-gateway/config"
	"github.com/angeloszaimis/frontend-gateway/internal/metrics"
)

// Reporter answers health polls. It holds no mutable state, so a single
// instance serves all requests concurrently.
type Reporter struct {
	logger    *slog.Logger
	prober    *Prober
	now       func() time.Time
	collector *metrics.Collector
}

type ReporterOption func(*Reporter)

func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) {
		r.now = now
	}
}

func WithMetrics(collector *metrics.Collector) ReporterOption {
	return func(r *Reporter) {
		r.collector = collector
	}
}

// NewReporter creates a reporter. prober may be nil, in which case the
// cascading variant reports the backend as unknown.
func NewReporter(logger *slog.Logger, prober *Prober, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		logger: logger,
		prober: prober,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler returns the variant selected by mode.
func (r *Reporter) Handler(mode string) http.HandlerFunc {
	if mode == config.HealthModeCascade {
		return r.Readiness
	}
	return r.Liveness
}

// Liveness always answers 200 and touches nothing but the clock.
func (r *Reporter) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Liveness{
		Status:    StatusOK,
		Timestamp: FormatTimestamp(r.now()),
	})
}

// Readiness probes the backend once and always answers 200; degradation is
// carried by the payload only.
func (r *Reporter) Readiness(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, r.Check(req.Context()))
}

// Check builds a report, probing the backend when a prober is configured.
func (r *Reporter) Check(ctx context.Context) Report {
	report := newReport(r.now())
	if r.prober == nil {
		return report
	}

	outcome := r.prober.Probe(ctx)
	report.Apply(outcome)
	r.observe(outcome)

	return report
}

func (r *Reporter) observe(outcome Outcome) {
	target := r.prober.Target().String()

	switch outcome.Result {
	case ResultUnreachable:
		r.logger.Warn("Backend health check failed",
			slog.String("target", target),
			slog.Bool("timed_out", outcome.TimedOut),
			slog.Any("error", outcome.Err))
	case ResultUnhealthy:
		r.logger.Info("Backend reported unhealthy",
			slog.String("target", target),
			slog.Int("status", outcome.StatusCode))
	}

	r.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventProbeCompleted,
		Backend:    target,
		Duration:   outcome.Latency,
		StatusCode: outcome.StatusCode,
		Healthy:    outcome.Healthy(),
		Detail:     outcome.BackendField(),
	})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
