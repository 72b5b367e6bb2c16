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

func TestObserveCrawl(t *testing.T) {
	TrackSites([]string{"observe.test"})
	before := testutil.ToFloat64(crawlsTotal.WithLabelValues("observe.test", "success"))
	ObserveCrawl("https://Observe.test/page", "success", 512, 20*time.Millisecond)
	ObserveCrawl("https://observe.test/other", "timeout", 0, time.Second)

	if got := testutil.ToFloat64(crawlsTotal.WithLabelValues("observe.test", "success")); got != before+1 {
		t.Errorf("expected success counter to grow by 1, got %f (before %f)", got, before)
	}
	if got := testutil.ToFloat64(crawlsTotal.WithLabelValues("observe.test", "timeout")); got < 1 {
		t.Errorf("expected timeout counter to be observed, got %f", got)
	}
	if got := testutil.ToFloat64(crawlBytesTotal.WithLabelValues("observe.test")); got < 512 {
		t.Errorf("expected bytes counter >= 512, got %f", got)
	}
}

func TestSiteLabelCollapsesUntrackedHosts(t *testing.T) {
	TrackSites([]string{"Tracked.Example", " observe.test "})

	cases := map[string]string{
		"https://tracked.example/a":     "tracked.example",
		"https://observe.test/b":        "observe.test",
		"https://random-1234.example/c": "other",
		"https://random-5678.example/c": "other",
		"http://%":                      "unknown",
	}
	for input, want := range cases {
		if got := siteLabel(input); got != want {
			t.Errorf("siteLabel(%q) = %q; want %q", input, got, want)
		}
	}

	before := testutil.ToFloat64(crawlsTotal.WithLabelValues("other", "success"))
	ObserveCrawl("https://random-1234.example/", "success", 0, time.Millisecond)
	ObserveCrawl("https://random-5678.example/", "success", 0, time.Millisecond)
	if got := testutil.ToFloat64(crawlsTotal.WithLabelValues("other", "success")); got != before+2 {
		t.Errorf("expected untracked hosts to share the other label, got %f (before %f)", got, before)
	}
}

func TestSessionGauge(t *testing.T) {
	SessionOpened("gauge-test")
	SessionOpened("gauge-test")
	SessionClosed("gauge-test")
	if got := testutil.ToFloat64(activeSessions.WithLabelValues("gauge-test")); got != 1 {
		t.Errorf("expected 1 open session, got %f", got)
	}
	SessionClosed("gauge-test")
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
