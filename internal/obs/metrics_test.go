package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/orgs/12":                  "/v1/orgs/:id",
		"/v1/orgs/12/members":          "/v1/orgs/:id/members",
		"/v1/orgs/12/members/alice":    "/v1/orgs/:id/members/:id",
		"/v1/banks/3/spends/7/execute": "/v1/banks/:id/spends/:id/execute",
		"/v1/events?limit=10":          "/v1/events",
		"/v1/content/bafkreiabc":       "/v1/content/:id",
		"/v1/accounts/alice/balance":   "/v1/accounts/:id/balance",
		"/v1/submissions/4/approve":    "/v1/submissions/:id/approve",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveCommand(t *testing.T) {
	Init()
	before := value(t, commandErrors.WithLabelValues("state"))
	ObserveCommand("ExecuteSpend", "state")
	ObserveCommand("ExecuteSpend", "")
	if got := value(t, commandErrors.WithLabelValues("state")); got != before+1 {
		t.Fatalf("expected error counter to grow by 1, got %v -> %v", before, got)
	}
	if value(t, commandsTotal.WithLabelValues("ExecuteSpend", "ok")) < 1 {
		t.Fatalf("expected ok counter")
	}
}

func TestInstrumentAndLogger(t *testing.T) {
	Init()
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Logger().Info("handled")
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orgs/5", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := value(t, httpRequestsTotal.WithLabelValues("GET", "/v1/orgs/:id", "418")); got != 1 {
		t.Fatalf("expected one canonical request, got %v", got)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "handled" || entry["level"] != "info" || entry["ts"] == nil {
		t.Fatalf("unexpected log entry %v", entry)
	}
}
