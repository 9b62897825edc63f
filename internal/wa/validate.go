// Package wa is the WhatsApp Cloud API adapter: message sends, media uploads
// with a handle cache, SSRF-safe source fetching, adaptive image compression,
// and a blocking outbound throttle.
package wa

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedHostnames are never fetched regardless of the allow-list.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"169.254.169.254":          {},
}

// LookupFunc resolves a hostname to addresses. Tests stub it; production uses
// net.DefaultResolver.
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// URLValidator enforces the pre-fetch pipeline: scheme, source allow-list,
// blocked hostnames, and a DNS resolution check that rejects hosts resolving
// into private, loopback, link-local, multicast, or unspecified ranges. The
// DNS step defends against rebinding; a host that passes the name checks but
// answers with 10.0.0.5 is still refused.
type URLValidator struct {
	allowed []string
	lookup  LookupFunc
}

// NewURLValidator builds a validator for the given source domains. A domain
// entry matches itself and any subdomain.
func NewURLValidator(allowedDomains []string, lookup LookupFunc) *URLValidator {
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
			return net.DefaultResolver.LookupIPAddr(ctx, host)
		}
	}
	norm := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			norm = append(norm, d)
		}
	}
	return &URLValidator{allowed: norm, lookup: lookup}
}

// Validate runs the full pipeline against raw. A nil return means the URL is
// safe to fetch.
func (v *URLValidator) Validate(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	if _, blocked := blockedHostnames[host]; blocked {
		return fmt.Errorf("%w: %s", ErrBlockedDomain, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		// Literal IPs are never on the allow-list.
		return fmt.Errorf("%w: literal address %s", ErrBlockedDomain, host)
	}

	if !v.hostAllowed(host) {
		return fmt.Errorf("%w: %s not in allow-list", ErrBlockedDomain, host)
	}

	addrs, err := v.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrBlockedDomain, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s resolves to nothing", ErrBlockedDomain, host)
	}
	for _, a := range addrs {
		if isForbiddenIP(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedDomain, host, a.IP)
		}
	}
	return nil
}

// Allowed is the boolean form of Validate for pre-filtering candidates.
func (v *URLValidator) Allowed(url string) bool {
	return v.Validate(context.Background(), url) == nil
}

func (v *URLValidator) hostAllowed(host string) bool {
	for _, d := range v.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}
