package urlx

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// checkTarget rejects URLs the pipeline must never fetch: non-http(s)
// schemes and, unless explicitly allowed, private-network hosts.
func (r *Resolver) checkTarget(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrEmptyURL, u.String())
	}

	if r.allowPrivate {
		return nil
	}

	return CheckPublicHost(host)
}

// CheckPublicHost returns ErrPrivateHost when host names a loopback,
// private-network, or link-local target. Only literal addresses and the
// localhost name are inspected; other hostnames pass.
func CheckPublicHost(host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateHost, host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}

	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return fmt.Errorf("%w: %s", ErrPrivateHost, host)
	}

	return nil
}
