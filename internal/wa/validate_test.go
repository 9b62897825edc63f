package wa

import (
	"context"
	"errors"
	"net"
	"testing"
)

func publicLookup(t *testing.T) LookupFunc {
	t.Helper()
	return func(_ context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("203.0.113.10")}}, nil
	}
}

func TestValidate_AllowedDomainAndSubdomain(t *testing.T) {
	v := NewURLValidator([]string{"cdn.example.com"}, publicLookup(t))

	if err := v.Validate(context.Background(), "https://cdn.example.com/a.jpg"); err != nil {
		t.Fatalf("exact domain: %v", err)
	}
	if err := v.Validate(context.Background(), "https://img.cdn.example.com/a.jpg"); err != nil {
		t.Fatalf("subdomain: %v", err)
	}
	if err := v.Validate(context.Background(), "https://evilcdn.example.com.attacker.net/a.jpg"); !errors.Is(err, ErrBlockedDomain) {
		t.Fatalf("suffix trick: %v", err)
	}
}

func TestValidate_SchemeAndFormat(t *testing.T) {
	v := NewURLValidator([]string{"cdn.example.com"}, publicLookup(t))

	cases := []string{
		"ftp://cdn.example.com/a.jpg",
		"file:///etc/passwd",
		"://bad",
		"https:///nopath",
	}
	for _, raw := range cases {
		if err := v.Validate(context.Background(), raw); err == nil {
			t.Errorf("%q passed validation", raw)
		}
	}
}

func TestValidate_BlockedHostnames(t *testing.T) {
	v := NewURLValidator([]string{"localhost", "169.254.169.254"}, publicLookup(t))

	for _, raw := range []string{
		"http://localhost/x.jpg",
		"http://169.254.169.254/latest/meta-data",
		"http://metadata.google.internal/computeMetadata",
	} {
		if err := v.Validate(context.Background(), raw); !errors.Is(err, ErrBlockedDomain) {
			t.Errorf("%q: err = %v, want ErrBlockedDomain", raw, err)
		}
	}
}

func TestValidate_LiteralIPRejected(t *testing.T) {
	v := NewURLValidator([]string{"10.0.0.5"}, publicLookup(t))
	if err := v.Validate(context.Background(), "http://10.0.0.5/a.jpg"); !errors.Is(err, ErrBlockedDomain) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_DNSRebindRejected(t *testing.T) {
	for _, addr := range []string{"127.0.0.1", "10.1.2.3", "192.168.1.1", "169.254.0.9", "::1", "0.0.0.0", "224.0.0.1"} {
		lookup := func(_ context.Context, _ string) ([]net.IPAddr, error) {
			return []net.IPAddr{{IP: net.ParseIP(addr)}}, nil
		}
		v := NewURLValidator([]string{"cdn.example.com"}, lookup)
		if err := v.Validate(context.Background(), "https://cdn.example.com/a.jpg"); !errors.Is(err, ErrBlockedDomain) {
			t.Errorf("resolved %s: err = %v, want ErrBlockedDomain", addr, err)
		}
	}
}

func TestValidate_MixedResolutionRejected(t *testing.T) {
	// One public and one private address must still fail.
	lookup := func(_ context.Context, _ string) ([]net.IPAddr, error) {
		return []net.IPAddr{
			{IP: net.ParseIP("203.0.113.10")},
			{IP: net.ParseIP("10.0.0.8")},
		}, nil
	}
	v := NewURLValidator([]string{"cdn.example.com"}, lookup)
	if err := v.Validate(context.Background(), "https://cdn.example.com/a.jpg"); !errors.Is(err, ErrBlockedDomain) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate_LookupFailure(t *testing.T) {
	lookup := func(_ context.Context, _ string) ([]net.IPAddr, error) {
		return nil, errors.New("nxdomain")
	}
	v := NewURLValidator([]string{"cdn.example.com"}, lookup)
	if err := v.Validate(context.Background(), "https://cdn.example.com/a.jpg"); !errors.Is(err, ErrBlockedDomain) {
		t.Fatalf("err = %v", err)
	}
}
