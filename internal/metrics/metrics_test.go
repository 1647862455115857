package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExposed(t *testing.T) {
	m := New()
	m.WhalesDetected.Inc()
	m.WhalesDetected.Inc()
	m.LookupFailures.WithLabelValues("trades", "rate_limited").Inc()

	if got := testutil.ToFloat64(m.WhalesDetected); got != 2 {
		t.Errorf("whales_detected = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"whaleledger_feed_whales_detected_total 2",
		`whaleledger_upstream_failures_total{endpoint="trades",reason="rate_limited"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestOrNewIsolated(t *testing.T) {
	a := OrNew(nil)
	b := OrNew(nil)
	a.TradesRecorded.Inc()
	if got := testutil.ToFloat64(b.TradesRecorded); got != 0 {
		t.Errorf("instances share state: %v", got)
	}

	m := New()
	if OrNew(m) != m {
		t.Error("OrNew should return the given instance")
	}
}
