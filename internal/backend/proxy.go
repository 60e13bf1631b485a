package backend

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

// Backend is the upstream service the frontend forwards API traffic to. It
// owns the reverse proxy and tracks in-flight requests and response times.
type Backend struct {
	url               *url.URL
	proxy             *httputil.ReverseProxy
	logger            *slog.Logger
	mutex             sync.Mutex
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

const ewmaAlpha = 0.2

type Option func(*Backend)

// WithTransport replaces the upstream round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Backend) {
		b.proxy.Transport = rt
	}
}

// WithLogger sets the logger used for proxy errors.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithFlushInterval sets how often buffered response bodies are flushed to
// the client. A negative value flushes after every write.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Backend) {
		b.proxy.FlushInterval = d
	}
}

type forwardKey struct{}

type forward struct {
	target *url.URL
	err    error
}

// New creates a Backend for the service at u.
func New(u *url.URL, opts ...Option) *Backend {
	b := &Backend{
		url:    u,
		logger: slog.Default(),
	}

	b.proxy = &httputil.ReverseProxy{
		Rewrite:      b.rewrite,
		Transport:    newTransport(),
		ErrorHandler: b.handleError,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Forward proxies r to target, the already rewritten upstream URL. The
// returned error is the transport failure, if any; the client has then
// received a 502 unless it went away first.
func (b *Backend) Forward(w http.ResponseWriter, r *http.Request, target *url.URL) error {
	fw := &forward{target: target}
	ctx := context.WithValue(r.Context(), forwardKey{}, fw)

	b.proxy.ServeHTTP(w, r.WithContext(ctx))

	return fw.err
}

func (b *Backend) rewrite(pr *httputil.ProxyRequest) {
	fw, ok := pr.In.Context().Value(forwardKey{}).(*forward)
	if !ok || fw.target == nil {
		pr.SetURL(b.url)
		pr.SetXForwarded()
		return
	}

	out := *fw.target
	pr.Out.URL = &out
	// Empty Host makes the transport send the upstream host.
	pr.Out.Host = ""
	pr.SetXForwarded()
}

func (b *Backend) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if fw, ok := r.Context().Value(forwardKey{}).(*forward); ok {
		fw.err = err
	}

	if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
		b.logger.Debug("Client went away before backend responded",
			slog.String("path", r.URL.Path),
			slog.String("backend", b.url.String()))
		return
	}

	b.logger.Warn("Backend request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("backend", b.url.String()),
		slog.String("error", err.Error()))

	w.WriteHeader(http.StatusBadGateway)
}

// IncrementConn increments the in-flight request count.
func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

// DecrementConn decrements the in-flight request count.
func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

// ActiveConnections returns the current number of in-flight requests.
func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// URL returns the backend base URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest request duration.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}
