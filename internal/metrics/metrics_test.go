package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func newTestMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func TestRecordConnectAndDisconnect(t *testing.T) {
	m := newTestMetrics()

	m.RecordConnect()
	if got := gaugeValue(t, m.UsersConnected); got != 1 {
		t.Errorf("UsersConnected = %v, want 1", got)
	}
	if got := counterValue(t, m.ConnectionsTotal); got != 1 {
		t.Errorf("ConnectionsTotal = %v, want 1", got)
	}

	m.RecordDisconnect("idle_timeout")
	if got := gaugeValue(t, m.UsersConnected); got != 0 {
		t.Errorf("UsersConnected after disconnect = %v, want 0", got)
	}
}

func TestRecordFrameRouted(t *testing.T) {
	m := newTestMetrics()
	m.RecordFrameRouted("private_message", 0.001)
	m.RecordFrameRouted("private_message", 0.002)

	count := counterVecValue(t, m.FramesRouted, "private_message")
	if count != 2 {
		t.Errorf("FramesRouted[private_message] = %v, want 2", count)
	}
}

func TestRecordRateLimitDenial(t *testing.T) {
	m := newTestMetrics()
	m.RecordRateLimitDenial("message")

	count := counterVecValue(t, m.RateLimitDenials, "message")
	if count != 1 {
		t.Errorf("RateLimitDenials[message] = %v, want 1", count)
	}
}

func TestRecordIPBanLifecycle(t *testing.T) {
	m := newTestMetrics()
	m.RecordIPBan()
	if got := gaugeValue(t, m.IPBansActive); got != 1 {
		t.Errorf("IPBansActive = %v, want 1", got)
	}
	m.RecordIPBanExpired()
	if got := gaugeValue(t, m.IPBansActive); got != 0 {
		t.Errorf("IPBansActive after expiry = %v, want 0", got)
	}
}

func TestRecordAuthOutcomes(t *testing.T) {
	m := newTestMetrics()
	m.RecordAuthSuccess()
	m.RecordAuthFailure()
	m.RecordAuthLockout()

	if got := counterValue(t, m.AuthSuccesses); got != 1 {
		t.Errorf("AuthSuccesses = %v, want 1", got)
	}
	if got := counterValue(t, m.AuthFailures); got != 1 {
		t.Errorf("AuthFailures = %v, want 1", got)
	}
	if got := counterValue(t, m.AuthLockouts); got != 1 {
		t.Errorf("AuthLockouts = %v, want 1", got)
	}
}

func TestRecordTransferLifecycle(t *testing.T) {
	m := newTestMetrics()
	m.RecordTransferStart()
	if got := gaugeValue(t, m.TransfersActive); got != 1 {
		t.Errorf("TransfersActive = %v, want 1", got)
	}

	m.RecordTransferEnd(65536)
	if got := gaugeValue(t, m.TransfersActive); got != 0 {
		t.Errorf("TransfersActive after end = %v, want 0", got)
	}
	if got := counterValue(t, m.TransferBytes); got != 65536 {
		t.Errorf("TransferBytes = %v, want 65536", got)
	}
}

func TestRecordRekey(t *testing.T) {
	m := newTestMetrics()
	m.RecordRekey()
	m.RecordRekey()
	if got := counterValue(t, m.RekeysPerformed); got != 2 {
		t.Errorf("RekeysPerformed = %v, want 2", got)
	}
}

func TestDefaultReturnsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() should return the same instance across calls")
	}
}

func counterVecValue(t *testing.T, cv *prometheus.CounterVec, labelValues ...string) float64 {
	t.Helper()
	c, err := cv.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() error = %v", err)
	}
	return counterValue(t, c)
}
