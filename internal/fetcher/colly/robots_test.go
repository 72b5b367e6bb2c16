package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRobotsRetryReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
			{err: context.DeadlineExceeded},
		},
	}
	transport := &robotsRetryTransport{base: base, logger: zap.NewNop()}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "User-agent: *\nAllow: /", string(body))
	require.Equal(t, 4, base.calls)
}

func TestRobotsRetryStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{resp: httptest.NewRecorder().Result()},
		},
	}
	transport := &robotsRetryTransport{base: base}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)
}

func TestRobotsRetryNonTransientFails(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	transport := &robotsRetryTransport{base: base}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req) //nolint:bodyclose // error path returns no body
	require.Error(t, err)
	require.Nil(t, resp)
	require.Equal(t, 1, base.calls)
}

func TestRobotsTransportPassesThroughPages(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	transport := &robotsRetryTransport{base: base}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/page", nil)
	_, err := transport.RoundTrip(req) //nolint:bodyclose // error path returns no body
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, base.calls)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	if len(s.results) == 0 {
		return nil, context.DeadlineExceeded
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
