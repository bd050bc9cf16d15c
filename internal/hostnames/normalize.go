package hostnames

import (
	"net"
	"regexp"
	"strings"
)

var hostnameRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)*[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Normalize lowercases host and strips whitespace, any port, and a trailing dot.
// It is applied to both stored hostnames and inbound Host headers.
func Normalize(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return ""
	}
	if strings.HasPrefix(h, "[") {
		if end := strings.Index(h, "]"); end > 0 {
			return h[1:end]
		}
	}
	if split, _, err := net.SplitHostPort(h); err == nil {
		h = split
	}
	return strings.TrimSuffix(h, ".")
}

// Valid reports whether a normalized hostname is a plausible DNS name.
func Valid(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	return hostnameRe.MatchString(host)
}
