package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "claude-comms"

// Metrics holds all metric instruments for the event aggregation server.
type Metrics struct {
	EventsIngested   metric.Int64Counter
	AgentsRegistered metric.Int64Counter
	AgentUpdates     metric.Int64Counter
	MessagesStored   metric.Int64Counter
	TickDuration     metric.Float64Histogram
	WSConnections    metric.Int64ObservableGauge
	CacheHits        metric.Int64ObservableCounter
	CacheMisses      metric.Int64ObservableCounter
	CacheEvictions   metric.Int64ObservableCounter
}

// CacheStatsFunc supplies cumulative cache counters for the observable
// instruments. Satisfied by the session cache's Stats method.
type CacheStatsFunc func() (hits, misses, evictions int64)

// NewMetrics creates all metric instruments. connCount and cacheStats are
// polled on every metric collection.
func NewMetrics(connCount func() int, cacheStats CacheStatsFunc) (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsIngested, err = meter.Int64Counter("claude_comms.events.ingested",
		metric.WithDescription("Hook events accepted and stored"))
	if err != nil {
		return nil, err
	}

	m.AgentsRegistered, err = meter.Int64Counter("claude_comms.agents.registered",
		metric.WithDescription("New subagent registrations"))
	if err != nil {
		return nil, err
	}

	m.AgentUpdates, err = meter.Int64Counter("claude_comms.agents.updates",
		metric.WithDescription("Subagent completion updates applied"))
	if err != nil {
		return nil, err
	}

	m.MessagesStored, err = meter.Int64Counter("claude_comms.messages.stored",
		metric.WithDescription("Inter-agent messages appended"))
	if err != nil {
		return nil, err
	}

	m.TickDuration, err = meter.Float64Histogram("claude_comms.scheduler.tick_seconds",
		metric.WithDescription("Wall time spent per scheduler tick"))
	if err != nil {
		return nil, err
	}

	m.WSConnections, err = meter.Int64ObservableGauge("claude_comms.ws.connections",
		metric.WithDescription("Active WebSocket connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(connCount()))
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64ObservableCounter("claude_comms.cache.hits",
		metric.WithDescription("Session cache hits"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			h, _, _ := cacheStats()
			o.Observe(h)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64ObservableCounter("claude_comms.cache.misses",
		metric.WithDescription("Session cache misses"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			_, mi, _ := cacheStats()
			o.Observe(mi)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.CacheEvictions, err = meter.Int64ObservableCounter("claude_comms.cache.evictions",
		metric.WithDescription("Session cache LRU evictions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			_, _, e := cacheStats()
			o.Observe(e)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveTick records one scheduler tick duration; shaped to plug
// directly into the scheduler's observer hook.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickDuration.Record(context.Background(), d.Seconds())
}
