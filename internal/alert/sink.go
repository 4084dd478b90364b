package alert

import (
	"sync"

	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives alerts. Implementations must not block.
type Sink interface {
	Alert(a Alert)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(a Alert)

// Alert calls f(a).
func (f SinkFunc) Alert(a Alert) { f(a) }

// Multi fans an alert out to several sinks in order.
type Multi []Sink

// Alert implements Sink.
func (m Multi) Alert(a Alert) {
	for _, s := range m {
		if s != nil {
			s.Alert(a)
		}
	}
}

// LogSink writes alerts to the log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink logging through the alert component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.With().Str("component", "alert").Logger()}
}

// Alert implements Sink.
func (s *LogSink) Alert(a Alert) {
	ev := s.logger.Info()
	if a.Variant == VariantDestructive {
		ev = s.logger.Warn()
	}
	ev.Str("title", a.Title).
		Str("description", a.Description).
		Str("variant", string(a.Variant)).
		Msg("Alert")
}

// Queue buffers alerts for a rendering layer to collect. When full, new
// alerts are dropped and counted.
type Queue struct {
	mu       sync.Mutex
	items    []Alert
	capacity int
	dropped  int
	metrics  *metrics.Metrics
}

// NewQueue creates a queue holding at most capacity alerts.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		capacity: capacity,
		metrics:  metrics.GetMetrics(),
	}
}

// Alert implements Sink.
func (q *Queue) Alert(a Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.dropped++
		q.metrics.AlertsDroppedTotal.Inc()
		return
	}
	q.items = append(q.items, a)
}

// Drain returns and removes every queued alert, oldest first.
func (q *Queue) Drain() []Alert {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	if out == nil {
		out = []Alert{}
	}
	return out
}

// Len returns the number of queued alerts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many alerts were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
