package healthcheck_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/frontend-gateway/config"
	"github.com/angeloszaimis/frontend-gateway/internal/healthcheck"
	"github.com/angeloszaimis/frontend-gateway/internal/metrics"
)

var _ = Describe("Reporter", func() {
	var (
		logs  *bytes.Buffer
		log   *slog.Logger
		fixed time.Time
		clock func() time.Time
		base  = mustParseURL("http://localhost:8000")
		get   = func(h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, healthcheck.Path, nil))
			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			return rec, body
		}
		backendAnswering = func(code int) *healthcheck.Prober {
			return healthcheck.NewProber(base, healthcheck.WithClient(doerFunc(func(*http.Request) (*http.Response, error) {
				return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
			})))
		}
		backendFailing = func(err error) *healthcheck.Prober {
			return healthcheck.NewProber(base, healthcheck.WithClient(doerFunc(func(*http.Request) (*http.Response, error) {
				return nil, err
			})))
		}
	)

	BeforeEach(func() {
		logs = &bytes.Buffer{}
		log = slog.New(slog.NewJSONHandler(logs, nil))
		fixed = time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("CET", 3600))
		clock = func() time.Time { return fixed }
	})

	Describe("Liveness", func() {
		It("should answer ok with an ISO-8601 timestamp", func() {
			r := healthcheck.NewReporter(log, backendFailing(errors.New("boom")), healthcheck.WithClock(clock))

			rec, body := get(r.Liveness)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(body).To(HaveLen(2))
			Expect(body).To(HaveKeyWithValue("status", "ok"))
			Expect(body).To(HaveKeyWithValue("timestamp", "2026-03-04T04:06:07.890Z"))
		})

		It("should produce a parseable timestamp from the real clock", func() {
			r := healthcheck.NewReporter(log, nil)

			_, body := get(r.Liveness)

			ts, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(BeTemporally("~", time.Now(), time.Minute))
		})
	})

	Describe("Readiness", func() {
		It("should report a healthy backend", func() {
			r := healthcheck.NewReporter(log, backendAnswering(http.StatusOK), healthcheck.WithClock(clock))

			rec, body := get(r.Readiness)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(Equal(map[string]any{
				"status":    "ok",
				"frontend":  "healthy",
				"backend":   "healthy",
				"timestamp": "2026-03-04T04:06:07.890Z",
			}))
		})

		It("should degrade on a non-success backend status", func() {
			r := healthcheck.NewReporter(log, backendAnswering(http.StatusServiceUnavailable))

			rec, body := get(r.Readiness)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "degraded"))
			Expect(body).To(HaveKeyWithValue("backend", "unhealthy (status: 503)"))
			Expect(body).To(HaveKeyWithValue("frontend", "healthy"))
		})

		It("should degrade and warn when the backend times out", func() {
			r := healthcheck.NewReporter(log, backendFailing(context.DeadlineExceeded))

			rec, body := get(r.Readiness)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "degraded"))
			Expect(body).To(HaveKeyWithValue("backend", "unreachable"))
			Expect(logs.String()).To(ContainSubstring(`"level":"WARN"`))
			Expect(logs.String()).To(ContainSubstring(`"timed_out":true`))
		})

		It("should degrade when the connection is refused", func() {
			server := httptest.NewServer(http.NotFoundHandler())
			target := mustParseURL(server.URL)
			server.Close()

			r := healthcheck.NewReporter(log, healthcheck.NewProber(target))

			rec, body := get(r.Readiness)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("backend", "unreachable"))
			Expect(body).To(HaveKeyWithValue("status", "degraded"))
		})

		It("should report an unknown backend without a prober", func() {
			r := healthcheck.NewReporter(log, nil)

			_, body := get(r.Readiness)

			Expect(body).To(HaveKeyWithValue("backend", "unknown"))
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})

		It("should probe on every poll", func() {
			var calls int
			prober := healthcheck.NewProber(base, healthcheck.WithClient(doerFunc(func(*http.Request) (*http.Response, error) {
				calls++
				return nil, errors.New("connection refused")
			})))
			r := healthcheck.NewReporter(log, prober)

			get(r.Readiness)
			get(r.Readiness)

			Expect(calls).To(Equal(2))
		})

		It("should emit a probe metric", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			collector := metrics.NewCollector(10, log)
			collector.Start(ctx)

			r := healthcheck.NewReporter(log, backendAnswering(http.StatusBadGateway), healthcheck.WithMetrics(collector))
			get(r.Readiness)

			Eventually(func() int64 {
				return collector.Snapshot().Probes.Total
			}).Should(Equal(int64(1)))
			probes := collector.Snapshot().Probes
			Expect(probes.LastHealthy).To(BeFalse())
			Expect(probes.LastResult).To(Equal("unhealthy (status: 502)"))
			Expect(probes.Backend).To(Equal("http://localhost:8000/api/v1/health"))
		})
	})

	Describe("Handler", func() {
		It("should select the variant by mode", func() {
			r := healthcheck.NewReporter(log, backendAnswering(http.StatusOK))

			_, self := get(r.Handler(config.HealthModeSelf))
			Expect(self).NotTo(HaveKey("backend"))

			_, cascade := get(r.Handler(config.HealthModeCascade))
			Expect(cascade).To(HaveKeyWithValue("backend", "healthy"))
		})
	})
})
