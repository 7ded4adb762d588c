package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if pb.Counter != nil {
		return pb.GetCounter().GetValue()
	}
	return pb.GetGauge().GetValue()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Event("member_join")
	m.Suppress("bot")
	m.SetOnline(true)
}

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Record("member_leave")
	m.Record("member_leave")
	m.Evicted()
	if got := value(t, m.Records.WithLabelValues("member_leave")); got != 2 {
		t.Fatalf("records = %v, want 2", got)
	}
	if got := value(t, m.Evictions); got != 1 {
		t.Fatalf("evictions = %v, want 1", got)
	}
	m.SetOnline(true)
	if got := value(t, m.GatewayOnline); got != 1 {
		t.Fatalf("online = %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	_ = New(prometheus.NewRegistry())
	_ = New(prometheus.NewRegistry())
}
