package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind is the closed set of crawl failure classes.
type Kind string

// Failure kinds surfaced to API callers.
const (
	KindInvalidInput Kind = "invalid_input"
	KindBlocked      Kind = "blocked"
	KindNetwork      Kind = "network_failure"
	KindTimeout      Kind = "timeout"
	KindExtraction   Kind = "extraction_failure"
	KindInternal     Kind = "internal"
)

// HTTPStatus maps a failure kind onto a transport status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindBlocked:
		return http.StatusForbidden
	case KindNetwork, KindExtraction:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with kind and op. A nil err yields nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. An explicit *Error wins, then context and network
// errors are recognized; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var crawlErr *Error
	if errors.As(err, &crawlErr) {
		return crawlErr.Kind
	}
	return classify(err, KindInternal)
}

// Canceled reports whether err comes from the caller abandoning the crawl,
// such as a client disconnect or server shutdown, rather than a deadline.
// Such errors still surface as KindTimeout.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// classify recognizes timeouts and network failures, falling back to def.
func classify(err error, def Kind) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
		urlErr *url.Error
	)
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) || errors.As(err, &urlErr) {
		return KindNetwork
	}
	return def
}

// Wrap attaches a stage-specific default kind to err unless err already
// carries one or is recognizably a timeout/network failure.
func Wrap(def Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var crawlErr *Error
	if errors.As(err, &crawlErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: classify(err, def), Op: op, Err: err}
}

type errUnknownRenderMode string

func (e errUnknownRenderMode) Error() string {
	return fmt.Sprintf("unknown render mode %q (want auto, always, or never)", string(e))
}
