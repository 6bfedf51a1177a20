package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchesTotal == nil || runsTotal == nil || escalationsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCounters(t *testing.T) {
	Init()

	beforeFetch := testutil.ToFloat64(fetchesTotal.WithLabelValues("feeds.example.org", "ok"))
	ObserveFetch("https://feeds.example.org/rss", "ok", 512, 20*time.Millisecond)
	if got := testutil.ToFloat64(fetchesTotal.WithLabelValues("feeds.example.org", "ok")); got != beforeFetch+1 {
		t.Errorf("expected fetch counter to increase by 1, got %f -> %f", beforeFetch, got)
	}

	beforeRuns := testutil.ToFloat64(runsTotal.WithLabelValues("rss", "succeeded"))
	ObserveRun("rss", "succeeded")
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("rss", "succeeded")); got != beforeRuns+1 {
		t.Errorf("expected run counter to increase by 1, got %f -> %f", beforeRuns, got)
	}

	beforeAlerts := testutil.ToFloat64(alertsCreatedTotal)
	ObserveFinding("html", true)
	ObserveFinding("html", false)
	if got := testutil.ToFloat64(alertsCreatedTotal); got != beforeAlerts+1 {
		t.Errorf("expected alerts counter to increase by 1, got %f -> %f", beforeAlerts, got)
	}

	beforeEsc := testutil.ToFloat64(escalationsTotal.WithLabelValues("overdue"))
	ObserveEscalation("overdue")
	if got := testutil.ToFloat64(escalationsTotal.WithLabelValues("overdue")); got != beforeEsc+1 {
		t.Errorf("expected escalation counter to increase by 1, got %f -> %f", beforeEsc, got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
