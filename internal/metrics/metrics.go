package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	rejections    map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	probes        ProbeMetrics
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                   `json:"total_requests"`
	Uptime        time.Duration           `json:"uptime"`
	Routes        map[string]RouteMetrics `json:"routes"`
	Probes        ProbeMetrics            `json:"probes"`
	Upstream      *UpstreamMetrics        `json:"upstream,omitempty"`
}

type RouteMetrics struct {
	Requests    int64         `json:"requests"`
	Rejected    int64         `json:"rejected"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

type ProbeMetrics struct {
	Backend     string        `json:"backend,omitempty"`
	Total       int64         `json:"total"`
	Failures    int64         `json:"failures"`
	LastHealthy bool          `json:"last_healthy"`
	LastResult  string        `json:"last_result,omitempty"`
	LastLatency time.Duration `json:"last_latency"`
	LastProbeAt time.Time     `json:"last_probe_at,omitempty"`
}

type UpstreamMetrics struct {
	URL          string            `json:"url"`
	InFlight     int               `json:"in_flight"`
	EWMAResponse time.Duration     `json:"ewma_response"`
	Breakers     map[string]string `json:"breakers,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		rejections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[route]++
}

func (m *Metrics) RecordRejection(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[route]++
}

func (m *Metrics) RecordResponse(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[route] = append(m.responseTimes[route], duration)
	if len(m.responseTimes[route]) > maxSamples {
		m.responseTimes[route] = m.responseTimes[route][1:]
	}

	if m.statusCodes[route] == nil {
		m.statusCodes[route] = make(map[int]int64)
	}
	m.statusCodes[route][statusCode]++
}

func (m *Metrics) RecordProbe(backend string, healthy bool, result string, latency time.Duration, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.probes.Backend = backend
	m.probes.Total++
	if !healthy {
		m.probes.Failures++
	}
	m.probes.LastHealthy = healthy
	m.probes.LastResult = result
	m.probes.LastLatency = latency
	m.probes.LastProbeAt = at
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime: time.Since(m.startTime),
		Routes: make(map[string]RouteMetrics),
		Probes: m.probes,
	}

	allRoutes := make(map[string]bool)
	for route := range m.requests {
		allRoutes[route] = true
	}
	for route := range m.rejections {
		allRoutes[route] = true
	}
	for route := range m.responseTimes {
		allRoutes[route] = true
	}

	for route := range allRoutes {
		snap.TotalRequests += m.requests[route]

		rm := RouteMetrics{
			Requests:    m.requests[route],
			Rejected:    m.rejections[route],
			StatusCodes: make(map[int]int64, len(m.statusCodes[route])),
		}
		for code, count := range m.statusCodes[route] {
			rm.StatusCodes[code] = count
		}

		durations := m.responseTimes[route]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Routes[route] = rm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
