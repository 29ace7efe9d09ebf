package metrics

import "testing"

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.EventDecoded()
	m.DecodeError()
	m.AlertSent()
	m.Suppressed("no_handle")
	m.ResolverFailure("primary")
	m.Reconnect()
	m.WalletLearned()
	m.SetConnected(true)
	m.ObserveResolution(0.5)
}

func TestInitIsIdempotent(t *testing.T) {
	a := Init()
	b := Init()
	if a == nil || a != b {
		t.Fatalf("expected the same metrics instance, got %p and %p", a, b)
	}
	a.Suppressed("not_watched")
	a.SetConnected(false)
}
