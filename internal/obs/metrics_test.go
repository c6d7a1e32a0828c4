package obs

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Submission("executed")
	m.Submission("executed")
	m.Submission("rejected")
	m.Vote("approve", "approved")
	m.Escalation()
	m.Notification("telegram", nil)
	m.Notification("telegram", errors.New("boom"))
	m.CreditsDebited(2)
	m.CreditsDebited(0)
	m.SetPending(3)

	if got := testutil.ToFloat64(m.submissions.WithLabelValues("executed")); got != 2 {
		t.Fatalf("executed submissions=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.submissions.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("rejected submissions=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.votes.WithLabelValues("approve", "approved")); got != 1 {
		t.Fatalf("votes=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.escalations); got != 1 {
		t.Fatalf("escalations=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("telegram", "error")); got != 1 {
		t.Fatalf("failed notifications=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.credits); got != 2 {
		t.Fatalf("credits=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 3 {
		t.Fatalf("pending=%v, want 3", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Submission("executed")
	m.Vote("reject", "pending")
	m.Escalation()
	m.Notification("email", nil)
	m.CreditsDebited(1)
	m.SetPending(1)
	if m.Handler() == nil {
		t.Fatal("expected a handler")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics(nil)
	m.Escalation()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cmdgate_escalations_total 1") {
		t.Fatalf("expected escalation counter in output:\n%s", rec.Body.String())
	}
}
