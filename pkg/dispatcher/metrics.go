package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics counts dispatch outcomes. All fields are nil-safe through the
// wrapper methods so an unconfigured dispatcher pays no metrics cost.
type metrics struct {
	eventsQueued    prometheus.Counter
	eventsSent      prometheus.Counter
	eventsDropped   prometheus.Counter
	sendFailures    prometheus.Counter
	flushesBlocked  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		eventsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Subsystem: "dispatcher",
			Name:      "events_queued_total",
			Help:      "Events appended to the outbound queue.",
		}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Subsystem: "dispatcher",
			Name:      "events_sent_total",
			Help:      "Events confirmed delivered to the ingestion endpoint.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Subsystem: "dispatcher",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to a full queue or malformed payload.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Subsystem: "dispatcher",
			Name:      "send_failures_total",
			Help:      "Batch sends that exhausted all retries.",
		}),
		flushesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Subsystem: "dispatcher",
			Name:      "flushes_blocked_total",
			Help:      "Flush cycles skipped while the network was unreachable.",
		}),
	}
	reg.MustRegister(m.eventsQueued, m.eventsSent, m.eventsDropped, m.sendFailures, m.flushesBlocked)
	return m
}

func (m *metrics) addQueued(n int) {
	if m != nil {
		m.eventsQueued.Add(float64(n))
	}
}

func (m *metrics) addSent(n int) {
	if m != nil {
		m.eventsSent.Add(float64(n))
	}
}

func (m *metrics) addDropped(n int) {
	if m != nil {
		m.eventsDropped.Add(float64(n))
	}
}

func (m *metrics) incSendFailures() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *metrics) incFlushesBlocked() {
	if m != nil {
		m.flushesBlocked.Inc()
	}
}
