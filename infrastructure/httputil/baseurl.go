package httputil

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// BaseURLOptions configures NormalizeBaseURL.
type BaseURLOptions struct {
	// RequireHTTPS rejects any scheme other than https.
	RequireHTTPS bool

	// RejectPrivateHosts rejects hosts that resolve to loopback, link-local,
	// or RFC1918/RFC4193 private address ranges. Used when normalizing a
	// target base URL supplied by a caller, to cut off SSRF into internal
	// infrastructure.
	RejectPrivateHosts bool
}

// NormalizeBaseURL normalizes and validates a base URL used for outbound
// scan-target / spec-fetch requests.
//
// It trims whitespace, removes trailing slashes, validates scheme/host,
// disallows user info, and optionally enforces https and rejects private
// address ranges.
func NormalizeBaseURL(raw string, opts BaseURLOptions) (string, *url.URL, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw), "/")
	if baseURL == "" {
		return "", nil, fmt.Errorf("base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", nil, fmt.Errorf("base URL must be a valid URL")
	}
	if parsed.User != nil {
		return "", nil, fmt.Errorf("base URL must not include user info")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("base URL scheme must be http or https")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", nil, fmt.Errorf("base URL must not include query or fragment")
	}
	if opts.RequireHTTPS && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("base URL must use https")
	}
	if opts.RejectPrivateHosts {
		if err := rejectPrivateHost(parsed.Hostname()); err != nil {
			return "", nil, err
		}
	}

	return baseURL, parsed, nil
}

// NormalizeScanTargetURL is the standard normalization applied to a scan's
// target base URL: https-or-http, no private/loopback hosts.
func NormalizeScanTargetURL(raw string, allowInternal bool) (string, *url.URL, error) {
	return NormalizeBaseURL(raw, BaseURLOptions{RejectPrivateHosts: !allowInternal})
}

// MaxRedirectDepth bounds how many redirect hops a spec-fetch or scan-probe
// HTTP client will follow before giving up, preventing redirect loops from
// being used to pivot a scan into internal infrastructure.
const MaxRedirectDepth = 5

// RejectPrivateHost resolves host (a literal IP or a DNS name) and returns an
// error if it falls in a private/loopback/link-local range. Exported so
// callers validating a redirect target (which arrives as a *url.URL, not a
// request being built from scratch) can reuse the same check NormalizeBaseURL
// applies to the original URL.
func RejectPrivateHost(host string) error {
	return rejectPrivateHost(host)
}

// rejectPrivateHost resolves host (a literal IP or a DNS name) and rejects it
// if host itself, or any address it resolves to, falls in a private/loopback/
// link-local range. Resolving at validation time catches a hostname that
// already points at internal infrastructure; SafeDialContext re-resolves and
// re-checks at connection time so a DNS record changed between validation and
// dial (DNS rebinding) is still caught (§4.10).
func rejectPrivateHost(host string) error {
	if host == "" {
		return nil
	}
	if host == "localhost" {
		return fmt.Errorf("base URL must not target a private or loopback address")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("base URL must not target a private or loopback address")
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return fmt.Errorf("resolve base URL host: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("base URL host did not resolve to any address")
	}
	for _, addr := range addrs {
		if isPrivateIP(addr.IP) {
			return fmt.Errorf("base URL must not target a private or loopback address")
		}
	}
	return nil
}

// isPrivateIP reports whether ip falls in a loopback, link-local, multicast,
// unspecified, or RFC1918/RFC4193 private range.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// SafeDialContext wraps a net.Dialer's DialContext so that, for every
// connection a client using this transport makes, the dialed address is
// re-validated against the private/loopback ranges right before the TCP
// connection opens — independent of whatever address validation already ran
// against the request URL at NormalizeBaseURL time. This is what actually
// closes the DNS-rebinding window: a name that resolved to a public address
// during validation but a private one by dial time is rejected here instead
// of being connected to.
func SafeDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if ip := net.ParseIP(host); ip != nil {
			if isPrivateIP(ip) {
				return nil, fmt.Errorf("refusing to dial private address %s", host)
			}
			return dialer.DialContext(ctx, network, addr)
		}

		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if isPrivateIP(a.IP) {
				return nil, fmt.Errorf("refusing to dial private address %s (resolved from %s)", a.IP, host)
			}
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("host %s did not resolve to any address", host)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].IP.String(), port))
	}
}
