// Package metrics exposes process counters in Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"replybot/internal/broadcast"
	"replybot/internal/eventbus"
	"replybot/internal/task/engine"
)

const namespace = "replybot"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	commands     *prometheus.CounterVec
	tasks        *prometheus.HistogramVec
	linesRead    prometheus.Counter
	rulesVersion prometheus.Gauge
	rulesCount   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Chat commands handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		tasks: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_task_duration_seconds",
			Help:      "Duration of storage tasks run on the worker pool.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"task", "result"}),
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irc_lines_read_total",
			Help:      "Lines read from the chat connection.",
		}),
		rulesVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_snapshot_version",
			Help:      "Version of the last broadcast rule snapshot.",
		}),
		rulesCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Number of rules in the last broadcast snapshot.",
		}),
	}
	m.reg.MustRegister(
		m.commands, m.tasks, m.linesRead, m.rulesVersion, m.rulesCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandHandled(kind, outcome string) {
	m.commands.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) LineRead() { m.linesRead.Inc() }

// TrackBroadcast exports the registry's counters on scrape.
func (m *Metrics) TrackBroadcast(r *broadcast.Registry) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live push subscribers.",
		}, func() float64 { return float64(r.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivered_total",
			Help:      "Payloads delivered to subscribers.",
		}, func() float64 { return float64(r.Stats().Delivered) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failed_total",
			Help:      "Subscriber sends that returned an error.",
		}, func() float64 { return float64(r.Stats().Failed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Payloads dropped because a subscriber mailbox was full.",
		}, func() float64 { return float64(r.Stats().Dropped) }),
	)
}

// Consume feeds bus events into the collectors until ctx ends.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.observe(ev)
		}
	}
}

func (m *Metrics) observe(ev eventbus.Event) {
	switch data := ev.Data.(type) {
	case engine.TaskEvent:
		result := "ok"
		if data.Error != "" {
			result = "error"
		}
		m.tasks.WithLabelValues(data.Name, result).Observe(data.Duration.Seconds())
	case eventbus.RulesChanged:
		m.rulesVersion.Set(float64(data.Version))
		m.rulesCount.Set(float64(data.Count))
	}
}
