package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestProxied    EventType = "request_proxied"
	EventResponseCompleted EventType = "response_completed"
	EventRequestRejected   EventType = "request_rejected"
	EventProbeCompleted    EventType = "probe_completed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Backend    string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	Detail     string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	done    chan struct{}
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Emit queues event without blocking; it is dropped when the buffer is full.
// A nil collector ignores events.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after shutdown.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestProxied:
		c.metrics.IncrementRequests(event.Route)
	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Route, event.Duration, event.StatusCode)
	case EventRequestRejected:
		c.metrics.RecordRejection(event.Route)
	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Backend, event.Healthy, event.Detail, event.Duration, event.Timestamp)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
