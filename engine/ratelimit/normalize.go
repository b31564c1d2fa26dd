package ratelimit

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var errInvalidDomain = errors.New("ratelimit: invalid domain")

// normalizeDomain canonicalizes a fetch target's host so that
// "Example.com", "example.com:443" and "https://example.com/path" all share
// one bucket, while a non-default port keeps its own.
func normalizeDomain(value string) (string, error) {
	host := strings.TrimSpace(value)
	if host == "" {
		return "", errInvalidDomain
	}
	host = strings.ToLower(host)

	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil || u.Host == "" {
			return "", errInvalidDomain
		}
		host = strings.ToLower(u.Host)
	}

	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host, nil
	}

	base, port := host, ""
	if strings.ContainsRune(host, ':') {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", errInvalidDomain
		}
		base, port = h, p
	}
	if base == "" {
		return "", errInvalidDomain
	}
	if strings.Contains(base, ":") && !strings.HasPrefix(base, "[") {
		base = "[" + base + "]"
	}

	switch port {
	case "", "0", "80", "443":
		return base, nil
	default:
		return base + ":" + port, nil
	}
}
