// Package origin validates browser Origin headers for the relay's HTTP and
// WebSocket surfaces.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns its canonical
// scheme://host[:port] form plus the host[:port] portion for same-host
// comparisons.
//
// The special Origin value "null" is allowed and returned as-is.
func Normalize(header string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether a normalized origin may access the given request
// host.
//
// A non-empty allowlist is authoritative: entries are either "*" or
// normalized origin strings. With an empty allowlist the default policy is
// same-host only, ignoring scheme because the relay may sit behind a
// TLS-terminating proxy.
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found || (scheme != "http" && scheme != "https") {
		// "null" can never match a host-based request.
		return false
	}

	want, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == want
}

// canonicalHost lowercases the hostname, validates the port, and strips the
// scheme's default port. IPv6 literals keep their brackets.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitAuthority(authority)
	if !ok || hostname == "" {
		return "", false
	}
	hostname = strings.ToLower(hostname)

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitAuthority splits host[:port]. The hostname is returned without
// brackets for IPv6 literals; the port is empty when absent.
func splitAuthority(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		switch {
		case rest == "":
			return hostname, "", true
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			return hostname, rest[1:], true
		default:
			return "", "", false
		}
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", "", false
	}
}
