package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/frontend-gateway/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("IncrementRequests", func() {
		It("should track routes separately", func() {
			m.IncrementRequests("/api/v1/:path*")
			m.IncrementRequests("/api_be/:path*")
			m.IncrementRequests("/api/v1/:path*")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Routes["/api/v1/:path*"].Requests).To(Equal(int64(2)))
			Expect(snap.Routes["/api_be/:path*"].Requests).To(Equal(int64(1)))
		})
	})

	Describe("RecordResponse", func() {
		It("should average response times", func() {
			m.RecordResponse("/api/v1/:path*", 100*time.Millisecond, 200)
			m.RecordResponse("/api/v1/:path*", 200*time.Millisecond, 200)

			rm := m.Snapshot().Routes["/api/v1/:path*"]
			Expect(rm.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(rm.StatusCodes[200]).To(Equal(int64(2)))
		})

		It("should track different status codes", func() {
			m.RecordResponse("/api/v1/:path*", 100*time.Millisecond, 200)
			m.RecordResponse("/api/v1/:path*", 150*time.Millisecond, 404)
			m.RecordResponse("/api/v1/:path*", 200*time.Millisecond, 502)

			codes := m.Snapshot().Routes["/api/v1/:path*"].StatusCodes
			Expect(codes).To(HaveLen(3))
			Expect(codes[404]).To(Equal(int64(1)))
			Expect(codes[502]).To(Equal(int64(1)))
		})

		It("should compute percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("/api/v1/:path*", time.Duration(i)*time.Millisecond, 200)
			}

			rm := m.Snapshot().Routes["/api/v1/:path*"]
			Expect(rm.P50Response).To(Equal(51 * time.Millisecond))
			Expect(rm.P95Response).To(Equal(96 * time.Millisecond))
			Expect(rm.P99Response).To(Equal(100 * time.Millisecond))
		})

		It("should keep a bounded number of samples", func() {
			for i := 0; i < 1500; i++ {
				m.RecordResponse("/api/v1/:path*", time.Millisecond, 200)
			}
			m.RecordResponse("/api/v1/:path*", time.Second, 200)

			rm := m.Snapshot().Routes["/api/v1/:path*"]
			Expect(rm.StatusCodes[200]).To(Equal(int64(1501)))
			Expect(rm.P99Response).To(Equal(time.Millisecond))
			Expect(rm.AvgResponse).To(BeNumerically(">", time.Millisecond))
		})
	})

	Describe("RecordRejection", func() {
		It("should list a route that was only rejected", func() {
			m.RecordRejection("/api_be/:path*")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(BeZero())
			Expect(snap.Routes["/api_be/:path*"].Rejected).To(Equal(int64(1)))
		})
	})

	Describe("RecordProbe", func() {
		It("should count failures and keep the last outcome", func() {
			now := time.Now()
			m.RecordProbe("http://localhost:8000", false, "unreachable", time.Second, now)
			m.RecordProbe("http://localhost:8000", true, "healthy", 5*time.Millisecond, now.Add(time.Second))

			probes := m.Snapshot().Probes
			Expect(probes.Total).To(Equal(int64(2)))
			Expect(probes.Failures).To(Equal(int64(1)))
			Expect(probes.LastHealthy).To(BeTrue())
			Expect(probes.LastResult).To(Equal("healthy"))
			Expect(probes.LastLatency).To(Equal(5 * time.Millisecond))
		})
	})

	Describe("Snapshot", func() {
		It("should report uptime", func() {
			Expect(m.Snapshot().Uptime).To(BeNumerically(">=", 0))
		})

		It("should return copies of status code maps", func() {
			m.RecordResponse("/api/v1/:path*", time.Millisecond, 200)
			snap := m.Snapshot()
			snap.Routes["/api/v1/:path*"].StatusCodes[200] = 99

			Expect(m.Snapshot().Routes["/api/v1/:path*"].StatusCodes[200]).To(Equal(int64(1)))
		})
	})
})
