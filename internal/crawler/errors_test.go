package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfClassifiesErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"explicit kind", NewError(KindBlocked, "fetch", errors.New("robots")), KindBlocked},
		{"wrapped explicit kind", fmt.Errorf("outer: %w", NewError(KindExtraction, "extract", errors.New("bad"))), KindExtraction},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindNetwork},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindNetwork},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestCanceledSeparatesCallerAbortFromDeadline(t *testing.T) {
	t.Parallel()

	require.True(t, Canceled(context.Canceled))
	require.True(t, Canceled(Wrap(KindNetwork, "fetch", fmt.Errorf("visit: %w", context.Canceled))))
	require.False(t, Canceled(context.DeadlineExceeded))
	require.False(t, Canceled(Wrap(KindNetwork, "fetch", context.DeadlineExceeded)))
	require.False(t, Canceled(errors.New("boom")))
	require.False(t, Canceled(nil))
}

func TestWrapKeepsExistingKind(t *testing.T) {
	t.Parallel()

	inner := NewError(KindBlocked, "robots", errors.New("disallowed"))
	err := Wrap(KindNetwork, "fetch", inner)
	require.Equal(t, KindBlocked, KindOf(err))
	require.Contains(t, err.Error(), "fetch: robots: disallowed")

	err = Wrap(KindExtraction, "extract", errors.New("parse"))
	require.Equal(t, KindExtraction, KindOf(err))

	err = Wrap(KindExtraction, "extract", context.DeadlineExceeded)
	require.Equal(t, KindTimeout, KindOf(err))

	require.NoError(t, Wrap(KindNetwork, "fetch", nil))
	require.NoError(t, NewError(KindNetwork, "fetch", nil))
}

func TestKindHTTPStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusBadRequest, KindInvalidInput.HTTPStatus())
	require.Equal(t, http.StatusForbidden, KindBlocked.HTTPStatus())
	require.Equal(t, http.StatusBadGateway, KindNetwork.HTTPStatus())
	require.Equal(t, http.StatusBadGateway, KindExtraction.HTTPStatus())
	require.Equal(t, http.StatusGatewayTimeout, KindTimeout.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, Kind("other").HTTPStatus())
}

func TestParseRenderMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseRenderMode("")
	require.NoError(t, err)
	require.Equal(t, RenderAuto, mode)

	mode, err = ParseRenderMode("always")
	require.NoError(t, err)
	require.Equal(t, RenderAlways, mode)

	_, err = ParseRenderMode("sometimes")
	require.Error(t, err)
	require.Equal(t, KindInvalidInput, KindOf(err))
}
