package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL checks that raw is an absolute http(s) URL with a host and
// returns it parsed. Failures carry KindInvalidInput.
func ValidateURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, NewError(KindInvalidInput, "validate url", errors.New("url is required"))
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, NewError(KindInvalidInput, "validate url", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, NewError(KindInvalidInput, "validate url",
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, NewError(KindInvalidInput, "validate url", errors.New("url has no host"))
	}
	return u, nil
}

// NormalizeURL standardizes a URL for cache keys.
// It lowercases the scheme and host, removes default ports, drops the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// BaseDomain returns host without a leading "www." and lowercased.
func BaseDomain(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}
