package healthcheck

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	Path           = "/api/v1/health"
	DefaultTimeout = 5 * time.Second
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Result int

const (
	ResultHealthy Result = iota
	ResultUnhealthy
	ResultUnreachable
)

func (r Result) String() string {
	switch r {
	case ResultHealthy:
		return "healthy"
	case ResultUnhealthy:
		return "unhealthy"
	default:
		return "unreachable"
	}
}

// Outcome is the result of one probe.
type Outcome struct {
	Result     Result
	StatusCode int
	Err        error
	TimedOut   bool
	Latency    time.Duration
}

func (o Outcome) Healthy() bool {
	return o.Result == ResultHealthy
}

// BackendField renders the outcome as reported to health pollers.
func (o Outcome) BackendField() string {
	switch o.Result {
	case ResultHealthy:
		return BackendHealthy
	case ResultUnhealthy:
		return unhealthy(o.StatusCode)
	default:
		return BackendUnreachable
	}
}

func (o Outcome) Status() Status {
	if o.Healthy() {
		return StatusOK
	}
	return StatusDegraded
}

type Prober struct {
	target  *url.URL
	client  Doer
	timeout time.Duration
}

type ProberOption func(*Prober)

func WithClient(client Doer) ProberOption {
	return func(p *Prober) {
		if client != nil {
			p.client = client
		}
	}
}

func WithTimeout(timeout time.Duration) ProberOption {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewProber probes base joined with the health path.
func NewProber(base *url.URL, opts ...ProberOption) *Prober {
	p := &Prober{
		target:  base.JoinPath(Path),
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prober) Target() *url.URL {
	return p.target
}

// Probe performs exactly one GET bounded by the prober timeout. It never
// returns an error: failures are folded into the outcome.
func (p *Prober) Probe(ctx context.Context) Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target.String(), nil)
	if err != nil {
		return Outcome{
			Result: ResultUnreachable,
			Err:    goerr.Wrap(err, "failed to build health request", goerr.V("target", p.target.String())),
		}
	}
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return Outcome{
			Result:   ResultUnreachable,
			Err:      goerr.Wrap(err, "backend health request failed", goerr.V("target", p.target.String())),
			TimedOut: isTimeout(ctx, err),
			Latency:  time.Since(start),
		}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	outcome := Outcome{
		Result:     ResultHealthy,
		StatusCode: res.StatusCode,
		Latency:    time.Since(start),
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		outcome.Result = ResultUnhealthy
	}
	return outcome
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
