package healthcheck

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

const (
	FrontendHealthy    = "healthy"
	BackendHealthy     = "healthy"
	BackendUnreachable = "unreachable"
	BackendUnknown     = "unknown"
)

// timestampLayout renders UTC instants with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Liveness is the self-check payload.
type Liveness struct {
	Status    Status `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Report is the cascading payload. Frontend is always healthy.
type Report struct {
	Status    Status `json:"status"`
	Frontend  string `json:"frontend"`
	Backend   string `json:"backend"`
	Timestamp string `json:"timestamp"`
}

func newReport(now time.Time) Report {
	return Report{
		Status:    StatusOK,
		Frontend:  FrontendHealthy,
		Backend:   BackendUnknown,
		Timestamp: FormatTimestamp(now),
	}
}

// Apply merges a probe outcome into the report.
func (r *Report) Apply(o Outcome) {
	r.Backend = o.BackendField()
	r.Status = o.Status()
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func unhealthy(code int) string {
	return fmt.Sprintf("unhealthy (status: %d)", code)
}
