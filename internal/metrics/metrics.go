// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modlog"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events            *prometheus.CounterVec
	Records           *prometheus.CounterVec
	Suppressed        *prometheus.CounterVec
	Attribution       *prometheus.CounterVec
	InviteAttribution *prometheus.CounterVec
	Delivery          *prometheus.CounterVec
	Evictions         prometheus.Counter
	Commands          *prometheus.CounterVec
	GatewayOnline     prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Gateway events received, by kind.",
		}, []string{"kind"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "records_total",
			Help:      "Log records emitted, by kind.",
		}, []string{"kind"}),
		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "suppressed_total",
			Help:      "Events that produced no record, by reason.",
		}, []string{"reason"}), // reason: no_guild, bot, partial, no_change, bulk, banned, no_destination, panic
		Attribution: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "attribution_total",
			Help:      "Audit attribution lookups, by result.",
		}, []string{"result"}), // result: matched, unmatched, error
		InviteAttribution: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invites",
			Name:      "attribution_total",
			Help:      "Join invite attributions, by status.",
		}, []string{"status"}),
		Delivery: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Record deliveries, by result.",
		}, []string{"result"}), // result: sent, failed, deduped, dropped, unreachable
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "evictions_total",
			Help:      "Log destinations forgotten after becoming unreachable.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "total",
			Help:      "Commands handled, by command and result.",
		}, []string{"command", "result"}),
		GatewayOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "online",
			Help:      "1 while the gateway session is ready.",
		}),
	}
}

func (m *Metrics) Event(kind string) {
	if m != nil {
		m.Events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Record(kind string) {
	if m != nil {
		m.Records.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Suppress(reason string) {
	if m != nil {
		m.Suppressed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AttributionResult(result string) {
	if m != nil {
		m.Attribution.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) InviteStatus(status string) {
	if m != nil {
		m.InviteAttribution.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) DeliveryResult(result string) {
	if m != nil {
		m.Delivery.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) Command(name, result string) {
	if m != nil {
		m.Commands.WithLabelValues(name, result).Inc()
	}
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.GatewayOnline.Set(1)
	} else {
		m.GatewayOnline.Set(0)
	}
}
