// Package metrics holds the relay's Prometheus collectors. They live in a
// standalone package so truenas, commands and monitor can record without
// importing the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasrelay_commands_total",
		Help: "Chat commands handled, by command and outcome",
	}, []string{"command", "outcome"}) // outcome: ok|denied|usage|help|error

	MessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nasrelay_messages_dropped_total",
		Help: "Inbound envelopes dropped for lacking a chat id or text",
	})

	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasrelay_truenas_requests_total",
		Help: "TrueNAS API requests by operation and outcome",
	}, []string{"op", "outcome"}) // outcome: ok|http_error|transport_error

	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nasrelay_truenas_request_duration_seconds",
		Help:    "TrueNAS API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	MonitorPollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasrelay_monitor_polls_total",
		Help: "State monitor cycles by result",
	}, []string{"result"}) // result: seeded|diffed|empty|error

	MonitorAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasrelay_monitor_alerts_total",
		Help: "Alerts emitted by the state monitor",
	}, []string{"kind"}) // kind: changed|disappeared

	MonitorTrackedApps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nasrelay_monitor_tracked_apps",
		Help: "Apps in the monitor's current snapshot",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsTotal,
		MessagesDropped,
		APIRequestsTotal,
		APIRequestDuration,
		MonitorPollsTotal,
		MonitorAlertsTotal,
		MonitorTrackedApps,
	}
}

// Register registers every collector on reg (default registerer if nil),
// ignoring collectors that are already registered.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObserveAPI records one TrueNAS request.
func ObserveAPI(op, outcome string, started time.Time) {
	APIRequestsTotal.WithLabelValues(op, outcome).Inc()
	APIRequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
